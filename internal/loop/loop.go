// Package loop drives the per-frame update: advance rig animation, apply the
// latest samples, draw, report frame rate.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexface/internal/rig"
)

// MaxAnimationStep caps the interval handed to rig animation so a stall
// does not make springs or easing jump.
const MaxAnimationStep = 0.1

// FPSObserver receives the instantaneous frame rate after every tick but the
// first.
type FPSObserver func(fps float64)

// Scene submits the current rig to the renderer.
type Scene interface {
	Draw()
}

// Updater applies the latest producer samples to the rig.
type Updater interface {
	ApplyTick()
}

// Host supplies the display refresh. Present blocks until the next frame
// may start.
type Host interface {
	ShouldClose() bool
	Present()
}

// Loop is owned by the render goroutine. It is not rate limited; pacing
// comes from the Host.
type Loop struct {
	animator rig.Animator
	updater  Updater
	scene    Scene
	observer FPSObserver
	logger   zerolog.Logger
	now      func() time.Time

	last   time.Time
	ticks  uint64
	fpsLog time.Time
	window uint64
}

// New builds a loop. Any collaborator may be nil.
func New(animator rig.Animator, updater Updater, scene Scene, observer FPSObserver, logger zerolog.Logger) *Loop {
	return &Loop{
		animator: animator,
		updater:  updater,
		scene:    scene,
		observer: observer,
		logger:   logger.With().Str("component", "loop").Logger(),
		now:      time.Now,
	}
}

// Tick runs one frame at time now. It returns the measured frame rate and
// false on the first tick or when no time has passed.
func (l *Loop) Tick(now time.Time) (float64, bool) {
	var elapsed float64
	if l.ticks > 0 {
		elapsed = now.Sub(l.last).Seconds()
	}
	l.last = now
	l.ticks++

	dt := elapsed
	if dt > MaxAnimationStep {
		dt = MaxAnimationStep
	}
	if dt < 0 {
		dt = 0
	}

	if l.animator != nil {
		l.animator.Advance(float32(dt))
	}
	if l.updater != nil {
		l.updater.ApplyTick()
	}
	if l.scene != nil {
		l.scene.Draw()
	}

	if elapsed <= 0 {
		return 0, false
	}
	fps := 1 / elapsed
	if l.observer != nil {
		l.observer(fps)
	}
	l.logRate(now)
	return fps, true
}

// Run ticks once per host frame until the host closes or ctx is cancelled.
func (l *Loop) Run(ctx context.Context, host Host) error {
	l.logger.Info().Msg("Render loop started")
	for !host.ShouldClose() {
		select {
		case <-ctx.Done():
			l.logger.Info().Uint64("frames", l.ticks).Msg("Render loop cancelled")
			return ctx.Err()
		default:
		}

		l.Tick(l.now())
		host.Present()
	}
	l.logger.Info().Uint64("frames", l.ticks).Msg("Render loop ended")
	return nil
}

func (l *Loop) logRate(now time.Time) {
	l.window++
	if l.fpsLog.IsZero() {
		l.fpsLog = now
		return
	}
	if since := now.Sub(l.fpsLog); since >= time.Second {
		l.logger.Debug().
			Float64("fps", float64(l.window)/since.Seconds()).
			Uint64("frames", l.ticks).
			Msg("Frame rate")
		l.window = 0
		l.fpsLog = now
	}
}

// TickerHost paces a headless loop at a fixed period.
type TickerHost struct {
	ticker *time.Ticker
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewTickerHost(period time.Duration) *TickerHost {
	if period <= 0 {
		period = time.Second / 60
	}
	return &TickerHost{
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}
}

func (h *TickerHost) ShouldClose() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *TickerHost) Present() {
	select {
	case <-h.ticker.C:
	case <-h.done:
	}
}

// Close makes ShouldClose report true and releases a blocked Present.
func (h *TickerHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.ticker.Stop()
	close(h.done)
}
