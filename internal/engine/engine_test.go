package engine

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/metrics"
	"github.com/normanking/cortexface/internal/rig"
	"github.com/normanking/cortexface/internal/tracking"
)

type frameSource struct {
	ch     chan tracking.Frame
	closed atomic.Bool
}

func newFrameSource() *frameSource {
	return &frameSource{ch: make(chan tracking.Frame, 8)}
}

func (s *frameSource) Frames() <-chan tracking.Frame { return s.ch }
func (s *frameSource) Close() error {
	s.closed.Store(true)
	return nil
}

type audioStream struct {
	ch     chan []float32
	closed atomic.Bool
}

func newAudioStream() *audioStream {
	return &audioStream{ch: make(chan []float32, 1)}
}

func (s *audioStream) Chunks() <-chan []float32 { return s.ch }
func (s *audioStream) Close() error {
	s.closed.Store(true)
	return nil
}

type loudSpectrum struct{}

func (loudSpectrum) Snapshot() ([]uint8, bool) {
	return bytes.Repeat([]byte{255}, 128), true
}

var mouthOpenSolver = tracking.SolverFunc(func(tracking.Landmarks) (tracking.Sample, error) {
	return tracking.Sample{
		Active:            true,
		ExpressionWeights: map[string]float32{"mouthOpen": 0.9},
		HeadRotation:      mgl32.Vec3{10, 0, 0},
	}, nil
})

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tracking.Decimation = 1
	cfg.Audio.Tick = 5 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, m *metrics.Metrics) (*Engine, *rig.MemoryRig) {
	t.Helper()
	r := rig.NewMemoryRig(nil, channelmap.BoneHead)
	e := New(testConfig(), channelmap.Default(), r, nil, m, zerolog.Nop())
	t.Cleanup(func() { _ = e.Close() })
	return e, r
}

func TestEngine_TrackingEndToEnd(t *testing.T) {
	m := metrics.New(false)
	e, r := newEngine(t, m)
	src := newFrameSource()

	require.NoError(t, e.StartTracking(context.Background(), src, nil, mouthOpenSolver))
	src.ch <- tracking.Frame{Seq: 1, Landmarks: tracking.Landmarks{{0, 0, 0}}}

	require.Eventually(t, func() bool {
		return e.TrackingState() == tracking.StateActive
	}, time.Second, 5*time.Millisecond)

	e.ApplyTick()

	aa, ok := r.Weights()[channelmap.ChannelAA]
	require.True(t, ok)
	assert.InDelta(t, 0.9, aa, 1e-6)
	assert.InDelta(t, mgl32.DegToRad(5), r.Bone(channelmap.BoneHead).Rotation().X(), 1e-6)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeadPosed))

	require.NoError(t, e.StopTracking())
	assert.True(t, src.closed.Load())
	assert.Equal(t, tracking.StateUninitialized, e.TrackingState())

	// The rig keeps its last pose once tracking is gone.
	e.ApplyTick()
	aa = r.Weights()[channelmap.ChannelAA]
	assert.InDelta(t, 0.9, aa, 1e-6)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HeadPosed))
}

func TestEngine_CameraUnavailable(t *testing.T) {
	m := metrics.New(false)
	e, r := newEngine(t, m)

	events := make(chan bus.Event, 1)
	e.bus.Subscribe(bus.EventSensorUnavailable, func(ev bus.Event) { events <- ev })

	err := e.StartTracking(context.Background(), nil, nil, mouthOpenSolver)
	require.ErrorIs(t, err, tracking.ErrSensorUnavailable)

	select {
	case ev := <-events:
		assert.Equal(t, SensorCamera, ev.Data["sensor"])
	case <-time.After(time.Second):
		t.Fatal("no sensor event")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SensorErrors.WithLabelValues(SensorCamera)))

	assert.NotPanics(t, e.ApplyTick)
	assert.Empty(t, r.Weights())
	assert.Equal(t, tracking.StateUninitialized, e.TrackingState())
}

func TestEngine_ReportSensorUnavailable(t *testing.T) {
	m := metrics.New(false)
	e, _ := newEngine(t, m)

	events := make(chan bus.Event, 1)
	e.bus.Subscribe(bus.EventSensorUnavailable, func(ev bus.Event) { events <- ev })

	e.ReportSensorUnavailable(SensorCamera, errors.New("yunet: model not found"))

	select {
	case ev := <-events:
		assert.Equal(t, SensorCamera, ev.Data["sensor"])
		assert.Equal(t, "yunet: model not found", ev.Data["error"])
		assert.Equal(t, e.SessionID(), ev.Data["session"])
	case <-time.After(time.Second):
		t.Fatal("no sensor event")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SensorErrors.WithLabelValues(SensorCamera)))
	assert.Equal(t, tracking.StateUninitialized, e.TrackingState())
}

func TestEngine_MicrophoneUnavailable(t *testing.T) {
	e, r := newEngine(t, nil)

	err := e.StartAudio(context.Background(), nil, nil)
	require.ErrorIs(t, err, audio.ErrSensorUnavailable)

	e.ApplyTick()
	assert.Empty(t, r.Weights())
}

func TestEngine_StopAudioZeroesVisemes(t *testing.T) {
	e, r := newEngine(t, nil)
	stream := newAudioStream()

	require.NoError(t, e.StartAudio(context.Background(), stream, loudSpectrum{}))
	assert.ErrorIs(t, e.StartAudio(context.Background(), stream, nil), audio.ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		e.ApplyTick()
		aa, ok := r.Weights()[channelmap.ChannelAA]
		return ok && aa > 0.79
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.StopAudio())
	assert.True(t, stream.closed.Load())

	e.ApplyTick()
	for _, ch := range []string{channelmap.ChannelAA, channelmap.ChannelIH, channelmap.ChannelOU, channelmap.ChannelEE, channelmap.ChannelOH} {
		w, ok := r.Weights()[ch]
		require.True(t, ok, ch)
		assert.Equal(t, float32(0), w, ch)
	}

	require.NoError(t, e.StopAudio())
}

func TestEngine_StateChangesReachMetricsAndBus(t *testing.T) {
	m := metrics.New(false)
	e, _ := newEngine(t, m)

	changes := make(chan bus.Event, 4)
	e.bus.Subscribe(bus.EventTrackingStateChanged, func(ev bus.Event) { changes <- ev })

	src := newFrameSource()
	require.NoError(t, e.StartTracking(context.Background(), src, nil, mouthOpenSolver))
	src.ch <- tracking.Frame{Seq: 1, Landmarks: tracking.Landmarks{{0, 0, 0}}}

	select {
	case ev := <-changes:
		assert.Equal(t, "active", ev.Data["to"])
		assert.Equal(t, e.SessionID(), ev.Data["session"])
	case <-time.After(time.Second):
		t.Fatal("no state change event")
	}
	assert.Equal(t, float64(tracking.StateActive), testutil.ToFloat64(m.TrackingState))
}

func TestEngine_RestartTracking(t *testing.T) {
	e, _ := newEngine(t, nil)

	first := newFrameSource()
	require.NoError(t, e.StartTracking(context.Background(), first, nil, mouthOpenSolver))
	assert.ErrorIs(t, e.StartTracking(context.Background(), newFrameSource(), nil, mouthOpenSolver), tracking.ErrAlreadyRunning)
	require.NoError(t, e.StopTracking())

	second := newFrameSource()
	require.NoError(t, e.StartTracking(context.Background(), second, nil, mouthOpenSolver))
	second.ch <- tracking.Frame{Seq: 1, Landmarks: tracking.Landmarks{{0, 0, 0}}}

	require.Eventually(t, func() bool {
		return e.TrackingState() == tracking.StateActive
	}, time.Second, 5*time.Millisecond)
}
