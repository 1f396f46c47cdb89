package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recorder receives every published envelope sample.
type Recorder interface {
	EnvelopeObserved(s EnvelopeSample)
}

type nopRecorder struct{}

func (nopRecorder) EnvelopeObserved(EnvelopeSample) {}

// Estimator is the audio producer. A pump goroutine feeds stream samples into
// the analyser and a fixed-period timer turns the latest snapshot into an
// EnvelopeSample stored in the Cell.
type Estimator struct {
	cfg      Config
	stream   Stream
	analyser *Analyser
	spectrum SpectrumSource
	cell     *Cell
	recorder Recorder
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEstimator(cfg Config, stream Stream, cell *Cell, logger zerolog.Logger) *Estimator {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	analyser := NewAnalyser(cfg)
	return &Estimator{
		cfg:      cfg,
		stream:   stream,
		analyser: analyser,
		spectrum: analyser,
		cell:     cell,
		recorder: nopRecorder{},
		logger:   logger.With().Str("component", "audio").Logger(),
	}
}

// SetSpectrum replaces the built-in analyser as the snapshot source. Call
// before Start.
func (e *Estimator) SetSpectrum(s SpectrumSource) {
	if s == nil {
		s = e.analyser
	}
	e.spectrum = s
}

func (e *Estimator) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.recorder = r
}

// Start schedules the estimator. Without a stream it returns
// ErrSensorUnavailable and nothing is scheduled.
func (e *Estimator) Start(ctx context.Context) error {
	if e.stream == nil {
		return fmt.Errorf("%w: no microphone stream", ErrSensorUnavailable)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.analyser.Reset()

	e.wg.Add(2)
	go e.pump(runCtx)
	go e.tick(runCtx)

	e.logger.Info().
		Dur("tick", e.cfg.Tick).
		Int("bins", e.analyser.Bins()).
		Msg("Audio estimator started")
	return nil
}

// Stop halts the timer, closes the stream and publishes an all-zero sample
// so later render ticks drive the mouth closed. Safe to call more than once.
func (e *Estimator) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	err := e.stream.Close()
	e.wg.Wait()

	silent := Silent()
	silent.Timestamp = time.Now()
	e.cell.Store(silent)
	e.recorder.EnvelopeObserved(silent)

	e.logger.Info().Msg("Audio estimator stopped")
	if err != nil {
		return fmt.Errorf("close audio stream: %w", err)
	}
	return nil
}

func (e *Estimator) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Estimator) pump(ctx context.Context) {
	defer e.wg.Done()

	chunks := e.stream.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-chunks:
			if !ok {
				e.logger.Warn().Msg("Audio stream ended")
				return
			}
			e.analyser.Write(samples)
		}
	}
}

func (e *Estimator) tick(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			bins, ok := e.spectrum.Snapshot()
			if !ok {
				continue
			}
			s := FromSpectrum(bins, now)
			e.cell.Store(s)
			e.recorder.EnvelopeObserved(s)
		}
	}
}
