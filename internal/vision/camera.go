package vision

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/normanking/cortexface/internal/tracking"
)

// DropRecorder counts frames the camera discarded.
type DropRecorder interface {
	CameraFrameDropped()
}

// Camera is an opened capture device delivering BGR frames. It implements
// tracking.FrameSource. When the consumer is busy new frames are dropped,
// so the channel never holds a stale backlog.
type Camera struct {
	capture *gocv.VideoCapture
	frames  chan tracking.Frame
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	rec     DropRecorder
	logger  zerolog.Logger
}

// OpenCamera opens the device and starts reading. rec may be nil.
func OpenCamera(cfg Config, rec DropRecorder, logger zerolog.Logger) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %w", ErrCameraNotAvailable, cfg.DeviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrCameraNotAvailable, cfg.DeviceID)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	c := &Camera{
		capture: vc,
		frames:  make(chan tracking.Frame, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		rec:     rec,
		logger:  logger.With().Str("component", "camera").Int("device", cfg.DeviceID).Logger(),
	}
	go c.read()

	c.logger.Info().
		Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Camera opened")
	return c, nil
}

func (c *Camera) Frames() <-chan tracking.Frame {
	return c.frames
}

// Dropped returns how many frames were discarded because the consumer was
// busy.
func (c *Camera) Dropped() uint64 {
	return c.dropped.Load()
}

// Close stops reading and releases the device.
func (c *Camera) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		err = c.capture.Close()
		c.logger.Info().Uint64("dropped", c.Dropped()).Msg("Camera closed")
	})
	return err
}

func (c *Camera) read() {
	defer close(c.done)
	defer close(c.frames)

	mat := gocv.NewMat()
	defer mat.Close()

	var seq uint64
	misses := 0
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if ok := c.capture.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses == 30 {
				c.logger.Warn().Msg("Camera returned no frames")
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0
		seq++

		frame := tracking.Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Width:     mat.Cols(),
			Height:    mat.Rows(),
			Pixels:    mat.ToBytes(),
		}

		select {
		case c.frames <- frame:
		case <-c.stop:
			return
		default:
			c.drop()
		}
	}
}

func (c *Camera) drop() {
	c.dropped.Add(1)
	if c.rec != nil {
		c.rec.CameraFrameDropped()
	}
}
