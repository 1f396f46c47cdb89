package audio

import "sync/atomic"

// Cell holds the most recent envelope sample. The estimator timer writes it
// and the render tick reads it; neither side blocks.
type Cell struct {
	p atomic.Pointer[EnvelopeSample]
}

func (c *Cell) Store(s EnvelopeSample) {
	c.p.Store(&s)
}

// Load returns the latest sample. ok is false when audio never produced one,
// which callers treat as "no audio contribution". The viseme map must be
// treated as read-only.
func (c *Cell) Load() (EnvelopeSample, bool) {
	s := c.p.Load()
	if s == nil {
		return EnvelopeSample{}, false
	}
	return *s, true
}
