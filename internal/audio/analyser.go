package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// SpectrumSource supplies the latest frequency-magnitude snapshot as bytes in
// 0..255, one per bin. ok is false until any audio has been seen.
type SpectrumSource interface {
	Snapshot() (bins []uint8, ok bool)
}

// Analyser keeps a rolling PCM window and turns it into a byte spectrum on
// demand. It follows the usual browser analyser shape: Blackman window, FFT,
// magnitude smoothed over time, then decibels mapped linearly onto 0..255.
type Analyser struct {
	mu sync.Mutex

	bins        int
	size        int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	ring    []float64
	pos     int
	written bool

	fft      *fourier.FFT
	work     []float64
	coeffs   []complex128
	smoothed []float64
}

func NewAnalyser(cfg Config) *Analyser {
	bins := cfg.Bins
	if bins <= 0 {
		bins = DefaultConfig().Bins
	}
	size := bins * 2
	smoothing := cfg.Smoothing
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultConfig().Smoothing
	}
	minDB, maxDB := cfg.MinDecibels, cfg.MaxDecibels
	if maxDB <= minDB {
		minDB, maxDB = DefaultConfig().MinDecibels, DefaultConfig().MaxDecibels
	}

	return &Analyser{
		bins:        bins,
		size:        size,
		smoothing:   smoothing,
		minDecibels: minDB,
		maxDecibels: maxDB,
		ring:        make([]float64, size),
		fft:         fourier.NewFFT(size),
		work:        make([]float64, size),
		coeffs:      make([]complex128, size/2+1),
		smoothed:    make([]float64, bins),
	}
}

// Bins returns the number of magnitudes each snapshot carries.
func (a *Analyser) Bins() int {
	return a.bins
}

// Write appends samples in [-1,1] to the rolling window.
func (a *Analyser) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % a.size
	}
	a.written = true
}

// Snapshot computes the spectrum of the current window. Each call advances
// the time smoothing by one step.
func (a *Analyser) Snapshot() ([]uint8, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.written {
		return nil, false
	}

	// Oldest sample first.
	n := copy(a.work, a.ring[a.pos:])
	copy(a.work[n:], a.ring[:a.pos])
	window.Blackman(a.work)

	a.coeffs = a.fft.Coefficients(a.coeffs, a.work)

	out := make([]uint8, a.bins)
	scale := 255 / (a.maxDecibels - a.minDecibels)
	for k := 0; k < a.bins; k++ {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		if a.smoothed[k] <= 0 {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := (db - a.minDecibels) * scale
		switch {
		case v <= 0:
			out[k] = 0
		case v >= 255:
			out[k] = 255
		default:
			out[k] = uint8(v)
		}
	}
	return out, true
}

// Reset clears the window and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.pos = 0
	a.written = false
}
