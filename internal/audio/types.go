// Package audio estimates a coarse mouth-shape signal from the microphone.
//
// The estimator does not recognise phonemes. It reads the loudness of the
// latest spectrum snapshot and spreads it over five vowel visemes with fixed
// gains and thresholds.
package audio

import (
	"errors"
	"time"
)

var (
	// ErrSensorUnavailable means the audio stream could not be opened. The
	// estimator is never scheduled and the rig gets no viseme input.
	ErrSensorUnavailable = errors.New("audio stream unavailable")

	ErrAlreadyRunning = errors.New("estimator already running")
)

// Viseme is one of the five vowel mouth shapes.
type Viseme string

const (
	VisemeA Viseme = "A"
	VisemeI Viseme = "I"
	VisemeU Viseme = "U"
	VisemeE Viseme = "E"
	VisemeO Viseme = "O"
)

// Visemes lists the fixed viseme set in application order.
var Visemes = []Viseme{VisemeA, VisemeI, VisemeU, VisemeE, VisemeO}

type visemeCurve struct {
	gain      float32
	threshold float32
}

var curves = map[Viseme]visemeCurve{
	VisemeA: {gain: 0.8, threshold: 0.10},
	VisemeI: {gain: 0.6, threshold: 0.05},
	VisemeU: {gain: 0.4, threshold: 0.03},
	VisemeE: {gain: 0.5, threshold: 0.07},
	VisemeO: {gain: 0.7, threshold: 0.04},
}

// EnvelopeSample is the latest audio-derived mouth state.
type EnvelopeSample struct {
	Volume    float32 // compressed loudness in [0,1]
	Visemes   map[Viseme]float32
	Timestamp time.Time
}

// Config holds estimator and analyser settings.
type Config struct {
	Tick        time.Duration // estimator period
	Bins        int           // spectrum bin count; the FFT window is twice this
	SampleRate  int
	Smoothing   float64 // analyser time smoothing in [0,1)
	MinDecibels float64
	MaxDecibels float64
}

func DefaultConfig() Config {
	return Config{
		Tick:        33 * time.Millisecond,
		Bins:        128,
		SampleRate:  16000,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// ChunkSamples is the number of PCM samples that arrive in one estimator
// tick at SampleRate. It is at least 1.
func (c Config) ChunkSamples() int {
	n := int(int64(c.SampleRate) * int64(c.Tick) / int64(time.Second))
	if n < 1 {
		return 1
	}
	return n
}
