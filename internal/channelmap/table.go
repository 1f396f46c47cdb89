// Package channelmap translates named tracking and audio signals into the
// named expression channels and bone nodes of a target rig.
//
// A Table is built once and never mutated afterwards, so it can be shared by
// the render tick without locking.
package channelmap

import (
	"errors"
	"fmt"
)

var (
	// ErrMappingMiss reports a source name that has no table entry. Callers
	// drop the signal; it is never surfaced as a failure.
	ErrMappingMiss = errors.New("no mapping entry for source")

	// ErrDuplicateSource is returned when two entries share a source name.
	ErrDuplicateSource = errors.New("duplicate mapping source")

	// ErrInvalidEntry is returned for entries without a source or target.
	ErrInvalidEntry = errors.New("invalid mapping entry")
)

// Kind selects which side of the rig an entry writes to.
type Kind int

const (
	KindExpression Kind = iota
	KindBone
)

func (k Kind) String() string {
	switch k {
	case KindExpression:
		return "expression"
	case KindBone:
		return "bone"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a config string into a Kind. An empty string means
// KindExpression.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "expression":
		return KindExpression, nil
	case "bone":
		return KindBone, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, s)
	}
}

// Transform is applied to a source value before it is written to the rig.
type Transform struct {
	Scale  float32
	Negate bool
	Clamp  bool
	Min    float32
	Max    float32
}

// Identity returns a transform that leaves values unchanged.
func Identity() Transform {
	return Transform{Scale: 1}
}

// Apply scales, negates and optionally clamps v, in that order.
func (t Transform) Apply(v float32) float32 {
	v *= t.Scale
	if t.Negate {
		v = -v
	}
	if t.Clamp {
		v = Clamp(v, t.Min, t.Max)
	}
	return v
}

// Entry maps one source signal onto one rig target.
type Entry struct {
	Source    string
	Target    string
	Kind      Kind
	Transform Transform
}

// Table is an ordered, immutable set of entries with at most one entry per
// source name.
type Table struct {
	entries []Entry
	index   map[string]int
}

// New builds a table from entries, keeping their order. It fails if a source
// appears twice or an entry lacks a source or target.
func New(entries []Entry) (*Table, error) {
	t := &Table{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	for i, e := range entries {
		if e.Source == "" || e.Target == "" {
			return nil, fmt.Errorf("%w: entry %d needs source and target", ErrInvalidEntry, i)
		}
		if _, dup := t.index[e.Source]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSource, e.Source)
		}
		t.index[e.Source] = len(t.entries)
		t.entries = append(t.entries, e)
	}

	return t, nil
}

// MustNew is like New but panics on error. Intended for static tables.
func MustNew(entries []Entry) *Table {
	t, err := New(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the entry for source, or ErrMappingMiss.
func (t *Table) Lookup(source string) (Entry, error) {
	i, ok := t.index[source]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrMappingMiss, source)
	}
	return t.entries[i], nil
}

// Has reports whether source has an entry.
func (t *Table) Has(source string) bool {
	_, ok := t.index[source]
	return ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the entries in table order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Each calls fn for every entry of kind k in table order. This order is the
// collision policy: when two sources share a target, the later entry wins.
func (t *Table) Each(k Kind, fn func(Entry)) {
	for _, e := range t.entries {
		if e.Kind == k {
			fn(e)
		}
	}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
