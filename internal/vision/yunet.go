package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/normanking/cortexface/internal/tracking"
)

// YuNet finds the tracked face with OpenCV's FaceDetectorYN and returns its
// five landmarks. It implements tracking.Detector.
type YuNet struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex
}

func NewYuNet(cfg Config) (*YuNet, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yunet model: %w", err)
	}

	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 320, 320
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(w, h),
		float32(cfg.ConfidenceThresh),
		float32(cfg.NMSThresh),
		cfg.TopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &YuNet{detector: detector}, nil
}

// Detect runs the detector on a BGR frame.
func (y *YuNet) Detect(_ context.Context, frame tracking.Frame) (tracking.Landmarks, bool, error) {
	if len(frame.Pixels) == 0 {
		return nil, false, nil
	}

	img, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return nil, false, fmt.Errorf("frame to mat: %w", err)
	}
	defer img.Close()

	y.mu.Lock()
	defer y.mu.Unlock()

	y.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	out := gocv.NewMat()
	defer out.Close()
	y.detector.Detect(img, &out)

	faces := make([]Face, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		row := r
		faces = append(faces, parseRow(func(col int) float32 { return out.GetFloatAt(row, col) }))
	}

	best, ok := SelectBest(faces)
	if !ok {
		return nil, false, nil
	}
	return best.Landmarks, true, nil
}

func (y *YuNet) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.detector.Close()
	return nil
}

var _ tracking.Detector = (*YuNet)(nil)
