// Package tracking turns a camera frame stream into the current best-known
// face tracking sample.
//
// Frames are decimated before they reach the external landmark detector and
// solver; every solver result replaces the single sample held by the
// StateMachine, which the render tick reads without blocking.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrSensorUnavailable means the camera stream could not be opened. The
	// tracking producer never starts and downstream treats tracking as
	// permanently inactive.
	ErrSensorUnavailable = errors.New("camera stream unavailable")

	// ErrSolveFailure wraps any error or panic raised by the detector or
	// solver. It is absorbed at the state machine boundary.
	ErrSolveFailure = errors.New("solve failed")

	// ErrAlreadyRunning is returned by Start on a running tracker.
	ErrAlreadyRunning = errors.New("tracker already running")
)

// Sample is one estimate of face state.
type Sample struct {
	Active            bool
	ExpressionWeights map[string]float32
	HeadRotation      mgl32.Vec3 // degrees
	HeadPosition      mgl32.Vec3 // solver units
	Timestamp         time.Time
}

// Inactive returns the canonical no-face sample.
func Inactive() Sample {
	return Sample{}
}

// Normalize enforces the inactive invariant: no weights and zero pose.
func (s Sample) Normalize() Sample {
	if s.Active {
		return s
	}
	return Sample{Timestamp: s.Timestamp}
}

// Clone returns a sample with its own copy of the weight map.
func (s Sample) Clone() Sample {
	if s.ExpressionWeights == nil {
		return s
	}
	weights := make(map[string]float32, len(s.ExpressionWeights))
	for k, v := range s.ExpressionWeights {
		weights[k] = v
	}
	s.ExpressionWeights = weights
	return s
}

// Landmarks is an ordered set of 3D points for one face. The count and
// ordering are defined by the detector that produced them.
type Landmarks []mgl32.Vec3

// Frame is one decoded camera frame.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pixels    []byte // packed BGR, Width*Height*3

	// Landmarks is set by sources that already run detection upstream.
	Landmarks Landmarks
}

// FrameSource is an already-opened camera stream. The channel is closed when
// the stream ends.
type FrameSource interface {
	Frames() <-chan Frame
	Close() error
}

// Detector extracts landmarks for the single tracked face. found is false
// when no face is visible.
type Detector interface {
	Detect(ctx context.Context, frame Frame) (lm Landmarks, found bool, err error)
}

// Solver converts landmarks into expression weights and head pose. It is
// never invoked concurrently.
type Solver interface {
	Solve(lm Landmarks) (Sample, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(lm Landmarks) (Sample, error)

func (f SolverFunc) Solve(lm Landmarks) (Sample, error) {
	return f(lm)
}

// PassthroughDetector returns landmarks already attached to the frame.
type PassthroughDetector struct{}

func (PassthroughDetector) Detect(_ context.Context, frame Frame) (Landmarks, bool, error) {
	if len(frame.Landmarks) == 0 {
		return nil, false, nil
	}
	return frame.Landmarks, true, nil
}

// Recorder receives per-frame tracking measurements. Implementations must be
// safe to call from the tracker goroutine.
type Recorder interface {
	FrameDecimated(forwarded bool)
	SolveObserved(d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) FrameDecimated(bool)                {}
func (nopRecorder) SolveObserved(time.Duration, error) {}
