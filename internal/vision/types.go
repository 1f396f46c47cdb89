// Package vision opens the camera and finds face landmarks with OpenCV.
package vision

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexface/internal/tracking"
)

// ErrCameraNotAvailable is returned when the capture device cannot be
// opened. It matches tracking.ErrSensorUnavailable.
var ErrCameraNotAvailable = fmt.Errorf("camera not available: %w", tracking.ErrSensorUnavailable)

// Config holds camera and detector settings.
type Config struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int

	ModelPath        string  // YuNet ONNX model
	ConfidenceThresh float64 // minimum face score
	NMSThresh        float64
	TopK             int
}

func DefaultConfig() Config {
	return Config{
		DeviceID:         0,
		Width:            640,
		Height:           480,
		FPS:              30,
		ModelPath:        "models/face_detection_yunet_2023mar.onnx",
		ConfidenceThresh: 0.6,
		NMSThresh:        0.3,
		TopK:             5000,
	}
}

// Face is one detection in pixel coordinates.
type Face struct {
	X, Y, W, H float32
	Landmarks  tracking.Landmarks // right eye, left eye, nose, right mouth, left mouth
	Score      float32
}

func (f Face) Area() float32 {
	return f.W * f.H
}

// SelectBest picks the face to track when several are visible, scoring
// confidence*0.7 + relative area*0.3. It returns false for no faces.
func SelectBest(faces []Face) (Face, bool) {
	switch len(faces) {
	case 0:
		return Face{}, false
	case 1:
		return faces[0], true
	}

	var maxArea float32
	for _, f := range faces {
		if a := f.Area(); a > maxArea {
			maxArea = a
		}
	}

	best, bestScore := 0, float32(-1)
	for i, f := range faces {
		score := f.Score * 0.7
		if maxArea > 0 {
			score += f.Area() / maxArea * 0.3
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return faces[best], true
}

// parseRow decodes one 15-column YuNet result row: box x, y, w, h, five
// landmark x,y pairs, score.
func parseRow(at func(col int) float32) Face {
	f := Face{
		X:         at(0),
		Y:         at(1),
		W:         at(2),
		H:         at(3),
		Score:     at(14),
		Landmarks: make(tracking.Landmarks, 5),
	}
	for i := 0; i < 5; i++ {
		f.Landmarks[i] = mgl32.Vec3{at(4 + 2*i), at(5 + 2*i), 0}
	}
	return f
}
