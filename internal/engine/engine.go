// Package engine composes the three producers of the pipeline. The tracking
// producer and the audio timer each write one single-slot cell; the render
// tick reads both through ApplyTick and never blocks on either.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexface/internal/applier"
	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/metrics"
	"github.com/normanking/cortexface/internal/rig"
	"github.com/normanking/cortexface/internal/tracking"
)

const (
	SensorCamera     = "camera"
	SensorMicrophone = "microphone"
)

type Config struct {
	Tracking tracking.Config
	Audio    audio.Config
	Applier  applier.Config
}

func DefaultConfig() Config {
	return Config{
		Tracking: tracking.DefaultConfig(),
		Audio:    audio.DefaultConfig(),
		Applier:  applier.DefaultConfig(),
	}
}

// Engine owns the tracking state machine, the audio cell and the applier
// for one rig.
type Engine struct {
	cfg     Config
	session string
	rig     rig.Handle
	applier *applier.Applier
	state   *tracking.StateMachine
	cell    audio.Cell
	bus     *bus.EventBus
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// control path
	mu        sync.Mutex
	tracker   *tracking.Tracker
	estimator *audio.Estimator
}

// New creates an engine. table nil uses the built-in mapping; eventBus and
// m may be nil.
func New(cfg Config, table *channelmap.Table, h rig.Handle, eventBus *bus.EventBus, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if eventBus == nil {
		eventBus = bus.NewEventBus()
	}
	session := uuid.NewString()
	e := &Engine{
		cfg:     cfg,
		session: session,
		rig:     h,
		applier: applier.New(table, cfg.Applier),
		state:   tracking.NewStateMachine(),
		bus:     eventBus,
		metrics: m,
		logger: logger.With().
			Str("component", "engine").
			Str("session", session).
			Logger(),
	}

	e.state.SetOnChange(func(prev, next tracking.State) {
		e.metrics.ObserveTrackingState(next)
		e.bus.Publish(bus.Event{
			Type: bus.EventTrackingStateChanged,
			Data: map[string]any{
				"session": e.session,
				"from":    prev.String(),
				"to":      next.String(),
			},
		})
	})
	e.metrics.ObserveTrackingState(tracking.StateUninitialized)
	return e
}

func (e *Engine) SessionID() string {
	return e.session
}

// StartTracking launches the tracking producer on an opened camera stream.
// A nil source is reported as tracking.ErrSensorUnavailable; tracking then
// stays uninitialized and the render loop is unaffected.
func (e *Engine) StartTracking(ctx context.Context, source tracking.FrameSource, detector tracking.Detector, solver tracking.Solver) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tracker != nil && e.tracker.IsRunning() {
		return tracking.ErrAlreadyRunning
	}

	t := tracking.New(e.cfg.Tracking, source, detector, solver, e.state, e.logger)
	if e.metrics != nil {
		t.SetRecorder(e.metrics)
	}
	if err := t.Start(ctx); err != nil {
		if errors.Is(err, tracking.ErrSensorUnavailable) {
			e.ReportSensorUnavailable(SensorCamera, err)
		}
		return fmt.Errorf("start tracking: %w", err)
	}

	e.tracker = t
	e.bus.Publish(bus.Event{Type: bus.EventTrackingStarted, Data: map[string]any{"session": e.session}})
	return nil
}

// StopTracking halts the producer and releases the camera. The state
// machine returns to uninitialized so the rig keeps its last pose.
func (e *Engine) StopTracking() error {
	e.mu.Lock()
	t := e.tracker
	e.tracker = nil
	e.mu.Unlock()

	if t == nil {
		return nil
	}
	err := t.Stop()
	e.bus.Publish(bus.Event{Type: bus.EventTrackingStopped, Data: map[string]any{"session": e.session}})
	return err
}

// StartAudio schedules the envelope estimator on an opened microphone
// stream. spectrum nil uses the built-in analyser. A nil stream is reported
// as audio.ErrSensorUnavailable and no viseme input is ever produced.
func (e *Engine) StartAudio(ctx context.Context, stream audio.Stream, spectrum audio.SpectrumSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.estimator != nil && e.estimator.IsRunning() {
		return audio.ErrAlreadyRunning
	}

	est := audio.NewEstimator(e.cfg.Audio, stream, &e.cell, e.logger)
	if spectrum != nil {
		est.SetSpectrum(spectrum)
	}
	if e.metrics != nil {
		est.SetRecorder(e.metrics)
	}
	if err := est.Start(ctx); err != nil {
		if errors.Is(err, audio.ErrSensorUnavailable) {
			e.ReportSensorUnavailable(SensorMicrophone, err)
		}
		return fmt.Errorf("start audio: %w", err)
	}

	e.estimator = est
	e.bus.Publish(bus.Event{Type: bus.EventAudioStarted, Data: map[string]any{"session": e.session}})
	return nil
}

// StopAudio halts the estimator. Later ticks apply all-zero visemes.
func (e *Engine) StopAudio() error {
	e.mu.Lock()
	est := e.estimator
	e.estimator = nil
	e.mu.Unlock()

	if est == nil {
		return nil
	}
	err := est.Stop()
	e.bus.Publish(bus.Event{Type: bus.EventAudioStopped, Data: map[string]any{"session": e.session}})
	return err
}

// ApplyTick writes the latest tracking and audio samples to the rig. It is
// called from the render goroutine and implements loop.Updater.
func (e *Engine) ApplyTick() {
	sample, _ := e.state.Snapshot()
	env, hasAudio := e.cell.Load()

	rep := e.applier.Apply(e.rig, sample, env, hasAudio)
	e.metrics.ObserveApply(rep)
}

func (e *Engine) TrackingState() tracking.State {
	return e.state.State()
}

// ObserveFPS forwards the loop frame rate to metrics.
func (e *Engine) ObserveFPS(fps float64) {
	e.metrics.ObserveFPS(fps)
}

// Close stops both producers.
func (e *Engine) Close() error {
	return errors.Join(e.StopTracking(), e.StopAudio())
}

// ReportSensorUnavailable logs, counts and publishes a sensor that could not
// be opened. The engine reports its own start failures; callers use it for
// failures found before a producer starts, such as a missing face detector.
func (e *Engine) ReportSensorUnavailable(sensor string, err error) {
	e.logger.Warn().Err(err).Str("sensor", sensor).Msg("Sensor unavailable, continuing without it")
	e.metrics.SensorUnavailable(sensor)
	e.bus.Publish(bus.Event{
		Type: bus.EventSensorUnavailable,
		Data: map[string]any{
			"session": e.session,
			"sensor":  sensor,
			"error":   err.Error(),
		},
	})
}
