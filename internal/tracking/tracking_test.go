package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	ch     chan Frame
	closed atomic.Bool
}

func newChanSource(buf int) *chanSource {
	return &chanSource{ch: make(chan Frame, buf)}
}

func (s *chanSource) Frames() <-chan Frame { return s.ch }

func (s *chanSource) Close() error {
	s.closed.Store(true)
	return nil
}

type countingSolver struct {
	mu    sync.Mutex
	seqs  []uint64
	calls atomic.Int32
	fn    func(lm Landmarks) (Sample, error)
}

func (c *countingSolver) Solve(lm Landmarks) (Sample, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.seqs = append(c.seqs, uint64(lm[0].X()))
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(lm)
	}
	return Sample{
		Active:            true,
		ExpressionWeights: map[string]float32{"mouthOpen": 0.5},
		HeadRotation:      mgl32.Vec3{10, 0, 0},
	}, nil
}

func (c *countingSolver) solvedSeqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.seqs))
	copy(out, c.seqs)
	return out
}

// frameWithSeq encodes the frame position in the first landmark so the
// solver can report which frames it saw.
func frameWithSeq(seq uint64) Frame {
	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Landmarks: Landmarks{{float32(seq), 0, 0}},
	}
}

type recorder struct {
	forwarded atomic.Int32
	dropped   atomic.Int32
	failures  atomic.Int32
}

func (r *recorder) FrameDecimated(forwarded bool) {
	if forwarded {
		r.forwarded.Add(1)
	} else {
		r.dropped.Add(1)
	}
}

func (r *recorder) SolveObserved(_ time.Duration, err error) {
	if err != nil {
		r.failures.Add(1)
	}
}

func TestDecimator_ForwardsEveryThirdFrame(t *testing.T) {
	d := NewDecimator(DefaultDecimation)

	var forwarded []int
	for i := 1; i <= 9; i++ {
		if d.Forward() {
			forwarded = append(forwarded, i)
		}
	}

	assert.Equal(t, []int{3, 6, 9}, forwarded)
	assert.Equal(t, uint64(9), d.Count())
}

func TestDecimator_ClampsToOne(t *testing.T) {
	d := NewDecimator(0)
	for i := 0; i < 4; i++ {
		assert.True(t, d.Forward())
	}
}

func TestSample_NormalizeInactive(t *testing.T) {
	s := Sample{
		Active:            false,
		ExpressionWeights: map[string]float32{"mouthOpen": 1},
		HeadRotation:      mgl32.Vec3{1, 2, 3},
		HeadPosition:      mgl32.Vec3{4, 5, 6},
	}.Normalize()

	assert.Empty(t, s.ExpressionWeights)
	assert.Equal(t, mgl32.Vec3{}, s.HeadRotation)
	assert.Equal(t, mgl32.Vec3{}, s.HeadPosition)
}

func TestStateMachine_Transitions(t *testing.T) {
	m := NewStateMachine()

	var changes [][2]State
	m.SetOnChange(func(prev, next State) {
		changes = append(changes, [2]State{prev, next})
	})

	s, st := m.Snapshot()
	assert.Equal(t, StateUninitialized, st)
	assert.False(t, s.Active)

	assert.Equal(t, StateActive, m.Accept(Sample{Active: true, ExpressionWeights: map[string]float32{"a": 1}}))
	assert.Equal(t, StateActive, m.Accept(Sample{Active: true}))
	assert.Equal(t, StateInactive, m.Accept(Inactive()))

	m.Reset()
	assert.Equal(t, StateUninitialized, m.State())

	assert.Equal(t, [][2]State{
		{StateUninitialized, StateActive},
		{StateActive, StateInactive},
		{StateInactive, StateUninitialized},
	}, changes)
}

func TestStateMachine_LastWriterWins(t *testing.T) {
	m := NewStateMachine()
	for i := 0; i < 100; i++ {
		m.Accept(Sample{Active: true, ExpressionWeights: map[string]float32{"w": float32(i)}})
	}

	s, _ := m.Snapshot()
	assert.Equal(t, float32(99), s.ExpressionWeights["w"])
}

func TestStateMachine_AcceptCopiesWeights(t *testing.T) {
	m := NewStateMachine()
	weights := map[string]float32{"mouthOpen": 0.2}
	m.Accept(Sample{Active: true, ExpressionWeights: weights})

	weights["mouthOpen"] = 0.9

	s, _ := m.Snapshot()
	assert.Equal(t, float32(0.2), s.ExpressionWeights["mouthOpen"])
}

func TestSmoother_DisabledPassesThrough(t *testing.T) {
	s := NewSmoother(0)
	in := Sample{Active: true, ExpressionWeights: map[string]float32{"a": 0.7}}
	assert.Equal(t, in, s.Smooth(in))
}

func TestSmoother_BlendsAndResetsOnInactive(t *testing.T) {
	s := NewSmoother(0.5)

	first := s.Smooth(Sample{Active: true, ExpressionWeights: map[string]float32{"a": 0}, HeadRotation: mgl32.Vec3{0, 0, 0}})
	assert.Equal(t, float32(0), first.ExpressionWeights["a"])

	second := s.Smooth(Sample{Active: true, ExpressionWeights: map[string]float32{"a": 1}, HeadRotation: mgl32.Vec3{10, 0, 0}})
	assert.InDelta(t, 0.5, second.ExpressionWeights["a"], 1e-6)
	assert.InDelta(t, 5, second.HeadRotation.X(), 1e-6)

	s.Smooth(Inactive())
	third := s.Smooth(Sample{Active: true, ExpressionWeights: map[string]float32{"a": 1}})
	assert.Equal(t, float32(1), third.ExpressionWeights["a"])
}

func TestTracker_SolvesOnlyDecimatedFrames(t *testing.T) {
	src := newChanSource(16)
	solver := &countingSolver{}
	state := NewStateMachine()
	rec := &recorder{}

	tr := New(DefaultConfig(), src, nil, solver, state, zerolog.Nop())
	tr.SetRecorder(rec)
	require.NoError(t, tr.Start(context.Background()))

	for i := uint64(1); i <= 9; i++ {
		src.ch <- frameWithSeq(i)
	}

	require.Eventually(t, func() bool {
		return rec.forwarded.Load()+rec.dropped.Load() == 9
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []uint64{3, 6, 9}, solver.solvedSeqs())
	assert.Equal(t, int32(6), rec.dropped.Load())
	assert.Equal(t, StateActive, state.State())

	require.NoError(t, tr.Stop())
}

func TestTracker_SolveErrorDegradesToInactive(t *testing.T) {
	src := newChanSource(4)
	solver := &countingSolver{fn: func(Landmarks) (Sample, error) {
		return Sample{}, errors.New("bad landmarks")
	}}
	state := NewStateMachine()
	state.Accept(Sample{Active: true})
	rec := &recorder{}

	tr := New(Config{Decimation: 1}, src, nil, solver, state, zerolog.Nop())
	tr.SetRecorder(rec)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	src.ch <- frameWithSeq(1)

	require.Eventually(t, func() bool { return rec.failures.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return state.State() == StateInactive }, time.Second, 5*time.Millisecond)
}

func TestTracker_SolverPanicIsContained(t *testing.T) {
	src := newChanSource(4)
	solver := &countingSolver{fn: func(Landmarks) (Sample, error) {
		panic("index out of range")
	}}
	state := NewStateMachine()
	rec := &recorder{}

	tr := New(Config{Decimation: 1}, src, nil, solver, state, zerolog.Nop())
	tr.SetRecorder(rec)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	src.ch <- frameWithSeq(1)
	src.ch <- frameWithSeq(2)

	require.Eventually(t, func() bool { return rec.failures.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateInactive, state.State())
	assert.True(t, tr.IsRunning())
}

func TestTracker_NoFaceIsInactive(t *testing.T) {
	src := newChanSource(4)
	solver := &countingSolver{}
	state := NewStateMachine()

	tr := New(Config{Decimation: 1}, src, nil, solver, state, zerolog.Nop())
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	src.ch <- Frame{Seq: 1}

	require.Eventually(t, func() bool { return state.State() == StateInactive }, time.Second, 5*time.Millisecond)
	assert.Zero(t, solver.calls.Load())
}

func TestTracker_StalledSourceKeepsLastSample(t *testing.T) {
	src := newChanSource(4)
	state := NewStateMachine()

	tr := New(Config{Decimation: 1}, src, nil, &countingSolver{}, state, zerolog.Nop())
	require.NoError(t, tr.Start(context.Background()))

	src.ch <- frameWithSeq(1)
	require.Eventually(t, func() bool { return state.State() == StateActive }, time.Second, 5*time.Millisecond)

	close(src.ch)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateActive, state.State())

	require.NoError(t, tr.Stop())
}

func TestTracker_StopReleasesSourceAndResetsState(t *testing.T) {
	src := newChanSource(4)
	state := NewStateMachine()

	tr := New(Config{Decimation: 1}, src, nil, &countingSolver{}, state, zerolog.Nop())
	require.NoError(t, tr.Start(context.Background()))

	src.ch <- frameWithSeq(1)
	require.Eventually(t, func() bool { return state.State() == StateActive }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Stop())
	assert.True(t, src.closed.Load())
	assert.Equal(t, StateUninitialized, state.State())
	assert.False(t, tr.IsRunning())

	require.NoError(t, tr.Stop())
}

func TestTracker_StartWithoutSource(t *testing.T) {
	tr := New(DefaultConfig(), nil, nil, &countingSolver{}, NewStateMachine(), zerolog.Nop())
	err := tr.Start(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)
}

func TestTracker_StartTwice(t *testing.T) {
	src := newChanSource(1)
	tr := New(DefaultConfig(), src, nil, &countingSolver{}, NewStateMachine(), zerolog.Nop())
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	assert.ErrorIs(t, tr.Start(context.Background()), ErrAlreadyRunning)
}
