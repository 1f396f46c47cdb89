package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexface/internal/channelmap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cortexface.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Tracking.Decimation)
	assert.Equal(t, float32(0.5), cfg.Rig.HeadDamping)
	assert.Equal(t, 33*time.Millisecond, cfg.Audio.Tick)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
tracking:
  decimation: 2
audio:
  tick: 20ms
  bins: 256
rig:
  head_damping: 0.25
render:
  headless: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Tracking.Decimation)
	assert.Equal(t, 20*time.Millisecond, cfg.Audio.Tick)
	assert.Equal(t, 256, cfg.Audio.Bins)
	assert.Equal(t, float32(0.25), cfg.Rig.HeadDamping)
	assert.True(t, cfg.Render.Headless)

	// untouched keys keep their defaults
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "tracking:\n  decimation: 2\n")
	t.Setenv("CORTEXFACE_TRACKING_DECIMATION", "5")
	t.Setenv("CORTEXFACE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Tracking.Decimation)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero decimation", "tracking:\n  decimation: 0\n", "Decimation"},
		{"damping above one", "rig:\n  head_damping: 1.5\n", "HeadDamping"},
		{"odd bin count", "audio:\n  bins: 100\n", "Bins"},
		{"unknown log level", "log:\n  level: loud\n", "Level"},
		{"unknown mapping kind", `
mapping:
  entries:
    - source: mouthOpen
      target: aa
      kind: muscle
`, "Kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMappingTable_DefaultWhenEmpty(t *testing.T) {
	table, err := DefaultConfig().MappingTable()
	require.NoError(t, err)
	assert.Equal(t, channelmap.Default().Len(), table.Len())
}

func TestMappingTable_FromEntries(t *testing.T) {
	path := writeConfig(t, `
mapping:
  entries:
    - source: mouthOpen
      target: jawOpen
    - source: headRotation
      target: Neck
      kind: bone
      negate: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	table, err := cfg.MappingTable()
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	e, err := table.Lookup("mouthOpen")
	require.NoError(t, err)
	assert.Equal(t, "jawOpen", e.Target)
	assert.Equal(t, channelmap.KindExpression, e.Kind)
	assert.Equal(t, float32(1), e.Transform.Scale)

	e, err = table.Lookup("headRotation")
	require.NoError(t, err)
	assert.Equal(t, channelmap.KindBone, e.Kind)
	assert.Equal(t, float32(-2), e.Transform.Apply(2))
}

func TestValidate_DuplicateMappingSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mapping.Entries = []MappingEntry{
		{Source: "mouthOpen", Target: "aa"},
		{Source: "mouthOpen", Target: "oh"},
	}
	assert.Error(t, cfg.Validate())
}

func TestSaveThenLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracking.Decimation = 4
	cfg.Audio.Tick = 50 * time.Millisecond
	cfg.Mapping.Entries = []MappingEntry{{Source: "eyeBlinkLeft", Target: "blinkLeft", Scale: 0.5}}

	path := filepath.Join(t.TempDir(), "nested", "cortexface.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, loaded.Tracking.Decimation)
	assert.Equal(t, 50*time.Millisecond, loaded.Audio.Tick)
	require.Len(t, loaded.Mapping.Entries, 1)
	assert.Equal(t, "blinkLeft", loaded.Mapping.Entries[0].Target)
	assert.Equal(t, float32(0.5), loaded.Mapping.Entries[0].Scale)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracking.Smoothing = 0.3
	cfg.Rig.HeadDamping = 0.8

	assert.Equal(t, 3, cfg.TrackingConfig().Decimation)
	assert.Equal(t, float32(0.3), cfg.TrackingConfig().Smoothing)
	assert.Equal(t, 128, cfg.AudioConfig().Bins)
	assert.Equal(t, 528, cfg.AudioConfig().ChunkSamples())
	assert.Equal(t, float32(0.8), cfg.ApplierConfig().HeadDamping)
}
