package logging

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleOutput(t *testing.T) {
	var out bytes.Buffer
	l, err := New(Config{Level: "debug", Console: true, Out: &out})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("tracking")
	log.Warn().Err(errors.New("boom")).Msg("solve failed")

	assert.Contains(t, out.String(), "solve failed")
	assert.Contains(t, out.String(), "boom")
	assert.Contains(t, out.String(), "tracking")
	assert.Empty(t, l.LogPath())
}

func TestLevelFilter(t *testing.T) {
	var out bytes.Buffer
	l, err := New(Config{Level: "warn", Console: true, Out: &out})
	require.NoError(t, err)

	log := l.Component("audio")
	log.Info().Msg("hidden")
	log.Error().Msg("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	var out bytes.Buffer
	l, err := New(Config{Level: "loud", Console: true, Out: &out})
	require.NoError(t, err)

	log := l.Component("engine")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Level: "info", LogDir: dir})
	require.NoError(t, err)

	loopLog := l.Component("loop")
	loopLog.Info().Msg("written to file")
	require.NoError(t, l.Close())

	require.True(t, strings.HasPrefix(l.LogPath(), dir))
	data, err := os.ReadFile(l.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), `"app":"cortexface"`)
	assert.Contains(t, string(data), `"component":"loop"`)
}
