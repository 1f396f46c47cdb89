package audio

import (
	"math"
	"time"
)

// compressExponent lifts quiet speech so the mouth moves at normal levels.
const compressExponent = 0.7

// MeanMagnitude averages byte spectrum magnitudes and normalises the result
// to [0,1]. An empty snapshot is silence.
func MeanMagnitude(bins []uint8) float32 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float32(float64(sum) / float64(len(bins)) / 255)
}

// Compress applies the loudness curve v^0.7 to a normalised level.
func Compress(level float32) float32 {
	if level <= 0 {
		return 0
	}
	if level >= 1 {
		return 1
	}
	return float32(math.Pow(float64(level), compressExponent))
}

// Envelope derives the viseme weights for a compressed volume. Each viseme
// is Volume*gain once Volume exceeds its threshold and 0 otherwise.
func Envelope(volume float32) EnvelopeSample {
	s := EnvelopeSample{
		Volume:  volume,
		Visemes: make(map[Viseme]float32, len(Visemes)),
	}
	for _, v := range Visemes {
		c := curves[v]
		if volume > c.threshold {
			s.Visemes[v] = volume * c.gain
		} else {
			s.Visemes[v] = 0
		}
	}
	return s
}

// FromSpectrum runs the whole per-tick computation on one snapshot.
func FromSpectrum(bins []uint8, now time.Time) EnvelopeSample {
	s := Envelope(Compress(MeanMagnitude(bins)))
	s.Timestamp = now
	return s
}

// Silent is the all-zero sample published when audio stops.
func Silent() EnvelopeSample {
	return Envelope(0)
}
