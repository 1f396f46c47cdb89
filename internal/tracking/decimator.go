package tracking

// DefaultDecimation forwards one frame in three (about 10 solves per second
// from a 30 fps camera).
const DefaultDecimation = 3

// Decimator forwards every Nth frame and drops the rest. It is owned by a
// single goroutine.
type Decimator struct {
	every uint64
	count uint64
}

func NewDecimator(every int) *Decimator {
	if every < 1 {
		every = 1
	}
	return &Decimator{every: uint64(every)}
}

// Forward counts one incoming frame and reports whether it should reach the
// solver. With N=3 frames 3, 6, 9, ... are forwarded.
func (d *Decimator) Forward() bool {
	d.count++
	return d.count%d.every == 0
}

// Count returns the number of frames seen.
func (d *Decimator) Count() uint64 {
	return d.count
}

func (d *Decimator) Every() int {
	return int(d.every)
}

func (d *Decimator) Reset() {
	d.count = 0
}
