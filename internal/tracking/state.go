package tracking

import (
	"sync/atomic"
)

// State is the tracking state derived from the last accepted sample.
type State int32

const (
	StateUninitialized State = iota
	StateInactive
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

type slot struct {
	sample Sample
	state  State
}

// StateMachine holds exactly one current sample. Every Accept replaces it;
// nothing is queued and nothing is rejected. The slot is swapped atomically
// so the single reader (the render tick) never blocks the single writer.
type StateMachine struct {
	cell     atomic.Pointer[slot]
	onChange atomic.Pointer[func(prev, next State)]
}

func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// SetOnChange registers a callback fired from the writer goroutine whenever
// the state changes.
func (m *StateMachine) SetOnChange(fn func(prev, next State)) {
	if fn == nil {
		m.onChange.Store(nil)
		return
	}
	m.onChange.Store(&fn)
}

// Accept replaces the current sample and returns the new state.
func (m *StateMachine) Accept(s Sample) State {
	s = s.Normalize().Clone()

	next := StateInactive
	if s.Active {
		next = StateActive
	}

	old := m.cell.Swap(&slot{sample: s, state: next})
	m.notify(stateOf(old), next)
	return next
}

// Snapshot returns the current sample and state. Before the first Accept it
// returns an inactive sample and StateUninitialized. The returned weight map
// must be treated as read-only.
func (m *StateMachine) Snapshot() (Sample, State) {
	cur := m.cell.Load()
	if cur == nil {
		return Inactive(), StateUninitialized
	}
	return cur.sample, cur.state
}

func (m *StateMachine) State() State {
	return stateOf(m.cell.Load())
}

// Reset drops the current sample and returns to StateUninitialized.
func (m *StateMachine) Reset() {
	old := m.cell.Swap(nil)
	m.notify(stateOf(old), StateUninitialized)
}

func (m *StateMachine) notify(prev, next State) {
	if prev == next {
		return
	}
	if fn := m.onChange.Load(); fn != nil {
		(*fn)(prev, next)
	}
}

func stateOf(s *slot) State {
	if s == nil {
		return StateUninitialized
	}
	return s.state
}
