package applier

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/rig"
	"github.com/normanking/cortexface/internal/tracking"
)

func newRig() *rig.MemoryRig {
	return rig.NewMemoryRig(nil, channelmap.BoneHead)
}

func active(weights map[string]float32, rot mgl32.Vec3) tracking.Sample {
	return tracking.Sample{Active: true, ExpressionWeights: weights, HeadRotation: rot}
}

func TestApply_EndToEnd(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())
	r := newRig()

	rep := a.Apply(r, active(map[string]float32{"mouthOpen": 0.9}, mgl32.Vec3{10, 0, 0}), audio.EnvelopeSample{}, false)

	w, ok := r.Weights()[channelmap.ChannelAA]
	require.True(t, ok)
	assert.InDelta(t, 0.9, w, 1e-6)
	assert.InDelta(t, mgl32.DegToRad(5), r.Bone(channelmap.BoneHead).Rotation().X(), 1e-6)
	assert.Equal(t, Report{Written: 1, HeadPosed: true}, rep)
}

func TestApply_InactiveWritesNothing(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())
	r := newRig()
	r.Bone(channelmap.BoneHead).SetRotation(mgl32.Vec3{0.3, 0, 0})

	// Weights on an inactive sample are ignored even if a producer left them.
	s := tracking.Sample{
		Active:            false,
		ExpressionWeights: map[string]float32{"mouthOpen": 1},
		HeadRotation:      mgl32.Vec3{45, 0, 0},
	}
	rep := a.Apply(r, s, audio.EnvelopeSample{}, false)

	assert.Empty(t, r.Weights())
	assert.Equal(t, mgl32.Vec3{0.3, 0, 0}, r.Bone(channelmap.BoneHead).Rotation())
	assert.Equal(t, Report{}, rep)
}

func TestApply_ClampsWeights(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())
	r := newRig()

	a.Apply(r, active(map[string]float32{"mouthOpen": 1.5, "eyeBlinkLeft": -0.2}, mgl32.Vec3{}), audio.EnvelopeSample{}, false)

	aa := r.Weights()[channelmap.ChannelAA]
	blink := r.Weights()[channelmap.ChannelBlinkLeft]
	assert.Equal(t, float32(1), aa)
	assert.Equal(t, float32(0), blink)
}

func TestApply_UnmappedNameIsMiss(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())
	r := newRig()

	rep := a.Apply(r, active(map[string]float32{"fooBar": 0.7}, mgl32.Vec3{}), audio.EnvelopeSample{}, false)

	assert.Empty(t, r.Weights())
	assert.Equal(t, 1, rep.Misses)
	assert.Equal(t, 0, rep.Written)
}

func TestApply_AudioAfterTracking(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())
	r := newRig()

	env := audio.Envelope(0.5) // A = 0.4
	rep := a.Apply(r, active(map[string]float32{"mouthOpen": 0.9}, mgl32.Vec3{}), env, true)

	aa := r.Weights()[channelmap.ChannelAA]
	assert.InDelta(t, 0.4, aa, 1e-6)
	ih := r.Weights()[channelmap.ChannelIH]
	assert.InDelta(t, 0.3, ih, 1e-6)
	assert.Equal(t, 6, rep.Written)
}

func TestApply_LaterEntryWinsCollision(t *testing.T) {
	table := channelmap.MustNew([]channelmap.Entry{
		{Source: "mouthSmileLeft", Target: "happy", Transform: channelmap.Identity()},
		{Source: "mouthSmileRight", Target: "happy", Transform: channelmap.Identity()},
	})
	a := New(table, DefaultConfig())
	r := newRig()

	a.Apply(r, active(map[string]float32{"mouthSmileLeft": 0.2, "mouthSmileRight": 0.8}, mgl32.Vec3{}), audio.EnvelopeSample{}, false)

	w := r.Weights()["happy"]
	assert.Equal(t, float32(0.8), w)
}

func TestApply_NoAudioVersusSilentAudio(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())

	t.Run("absent audio writes no visemes", func(t *testing.T) {
		r := newRig()
		a.Apply(r, tracking.Inactive(), audio.EnvelopeSample{}, false)
		assert.Empty(t, r.Weights())
	})

	t.Run("stopped audio writes zeros", func(t *testing.T) {
		r := newRig()
		r.SetExpressionWeight(channelmap.ChannelAA, 0.7)

		rep := a.Apply(r, tracking.Inactive(), audio.Silent(), true)

		for _, ch := range []string{channelmap.ChannelAA, channelmap.ChannelIH, channelmap.ChannelOU, channelmap.ChannelEE, channelmap.ChannelOH} {
			w, ok := r.Weights()[ch]
			require.True(t, ok, ch)
			assert.Equal(t, float32(0), w, ch)
		}
		assert.Equal(t, 5, rep.Written)
	})
}

func TestApply_BoneTransform(t *testing.T) {
	table := channelmap.MustNew([]channelmap.Entry{
		{
			Source:    channelmap.SourceHeadRotation,
			Target:    "Neck",
			Kind:      channelmap.KindBone,
			Transform: channelmap.Transform{Scale: 1, Negate: true},
		},
	})
	a := New(table, Config{HeadDamping: 1})
	r := rig.NewMemoryRig(nil, "Neck")

	rep := a.Apply(r, active(nil, mgl32.Vec3{0, 90, 0}), audio.EnvelopeSample{}, false)

	assert.True(t, rep.HeadPosed)
	assert.InDelta(t, -mgl32.DegToRad(90), r.Bone("Neck").Rotation().Y(), 1e-6)
}

func TestApply_MissingHeadBone(t *testing.T) {
	a := New(channelmap.Default(), DefaultConfig())
	r := rig.NewMemoryRig(nil)

	rep := a.Apply(r, active(nil, mgl32.Vec3{10, 0, 0}), audio.EnvelopeSample{}, false)
	assert.False(t, rep.HeadPosed)
}

// BenchmarkApply measures one render tick with a full face and all visemes.
func BenchmarkApply(b *testing.B) {
	a := New(channelmap.Default(), DefaultConfig())
	r := newRig()

	weights := make(map[string]float32)
	for _, e := range channelmap.Default().Entries() {
		if e.Kind == channelmap.KindExpression {
			weights[e.Source] = 0.5
		}
	}
	sample := active(weights, mgl32.Vec3{5, -3, 2})
	env := audio.Envelope(0.6)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Apply(r, sample, env, true)
	}
}
