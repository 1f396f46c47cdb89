package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the tracking producer.
type Config struct {
	Decimation int     // forward every Nth frame
	Smoothing  float32 // 0 disables output smoothing
}

func DefaultConfig() Config {
	return Config{
		Decimation: DefaultDecimation,
		Smoothing:  0,
	}
}

// Tracker is the tracking producer: it reads frames, decimates them, runs the
// detector and solver on the survivors and hands every result to the
// StateMachine. Solves run on the tracker goroutine, so at most one is ever
// in flight.
type Tracker struct {
	cfg      Config
	source   FrameSource
	detector Detector
	solver   Solver
	state    *StateMachine
	recorder Recorder
	logger   zerolog.Logger

	decimator *Decimator
	smoother  *Smoother

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a tracker. A nil detector means frames already carry landmarks.
func New(cfg Config, source FrameSource, detector Detector, solver Solver, state *StateMachine, logger zerolog.Logger) *Tracker {
	if detector == nil {
		detector = PassthroughDetector{}
	}
	return &Tracker{
		cfg:       cfg,
		source:    source,
		detector:  detector,
		solver:    solver,
		state:     state,
		recorder:  nopRecorder{},
		logger:    logger.With().Str("component", "tracking").Logger(),
		decimator: NewDecimator(cfg.Decimation),
		smoother:  NewSmoother(cfg.Smoothing),
	}
}

// SetRecorder installs a measurement sink. Call before Start.
func (t *Tracker) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	t.recorder = r
}

// Start launches the producer goroutine. It fails with ErrSensorUnavailable
// when there is no frame source.
func (t *Tracker) Start(ctx context.Context) error {
	if t.source == nil {
		return fmt.Errorf("%w: no frame source", ErrSensorUnavailable)
	}
	if t.solver == nil {
		return errors.New("tracking: solver is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true
	t.decimator.Reset()
	t.smoother.Reset()

	go t.run(runCtx, t.done)

	t.logger.Info().
		Int("decimation", t.decimator.Every()).
		Bool("smoothing", t.smoother.Enabled()).
		Msg("Tracking started")
	return nil
}

// Stop halts the producer, releases the frame source and resets the state
// machine so readers see tracking as inactive. Safe to call more than once.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done

	err := t.source.Close()
	t.state.Reset()

	t.logger.Info().Uint64("frames", t.decimator.Count()).Msg("Tracking stopped")
	if err != nil {
		return fmt.Errorf("close frame source: %w", err)
	}
	return nil
}

func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	frames := t.source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// Stalled or ended stream: keep the last sample, no timeout.
				t.logger.Warn().Msg("Frame source closed, holding last sample")
				return
			}

			forwarded := t.decimator.Forward()
			t.recorder.FrameDecimated(forwarded)
			if !forwarded {
				continue
			}
			t.process(ctx, frame)
		}
	}
}

func (t *Tracker) process(ctx context.Context, frame Frame) {
	start := time.Now()
	sample, err := t.solve(ctx, frame)
	t.recorder.SolveObserved(time.Since(start), err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Debug().Err(err).Uint64("frame", frame.Seq).Msg("Solve failed, degrading to inactive")
		t.smoother.Reset()
		t.state.Accept(Inactive())
		return
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = frame.Timestamp
	}
	t.state.Accept(t.smoother.Smooth(sample))
}

// solve runs detector and solver, converting errors and panics into
// ErrSolveFailure.
func (t *Tracker) solve(ctx context.Context, frame Frame) (sample Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSolveFailure, r)
		}
	}()

	lm, found, err := t.detector.Detect(ctx, frame)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: detect: %w", ErrSolveFailure, err)
	}
	if !found {
		return Inactive(), nil
	}

	sample, err = t.solver.Solve(lm)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrSolveFailure, err)
	}
	return sample.Normalize(), nil
}
