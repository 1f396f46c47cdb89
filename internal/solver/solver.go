// Package solver estimates head pose and a few expressions from the five
// landmarks produced by a YuNet face detector.
//
// Landmark order: right eye, left eye, nose tip, right mouth corner, left
// mouth corner, in image coordinates (y down). The estimate is geometric
// and coarse; it exists so the pipeline runs without an external solver.
package solver

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexface/internal/tracking"
)

const (
	RightEye = iota
	LeftEye
	Nose
	RightMouth
	LeftMouth
	LandmarkCount
)

var (
	ErrTooFewLandmarks = errors.New("too few landmarks")
	ErrDegenerateFace  = errors.New("degenerate landmark geometry")
)

// Config holds the neutral-face ratios the estimate is measured against.
type Config struct {
	// NeutralPitch is nose depth between the eye and mouth lines on a level
	// face, as a fraction of eye-to-mouth distance.
	NeutralPitch float32
	// NeutralMouth is mouth width over eye distance on a relaxed face.
	NeutralMouth float32
	// SmileRange is the mouth ratio increase that reads as a full smile.
	SmileRange float32
	// PitchScale converts the pitch ratio offset to degrees.
	PitchScale float32
	MaxPitch   float32
}

func DefaultConfig() Config {
	return Config{
		NeutralPitch: 0.55,
		NeutralMouth: 0.85,
		SmileRange:   0.25,
		PitchScale:   150,
		MaxPitch:     45,
	}
}

// Geometric is a tracking.Solver. Its only state is the neutral-face
// calibration, which changes on the solve goroutine.
type Geometric struct {
	cfg           Config
	calibrateNext atomic.Bool
}

func New(cfg Config) *Geometric {
	if cfg.SmileRange <= 0 {
		cfg.SmileRange = DefaultConfig().SmileRange
	}
	return &Geometric{cfg: cfg}
}

// CalibrateNext makes the next successful measurement the neutral face.
// Safe to call from any goroutine.
func (g *Geometric) CalibrateNext() {
	g.calibrateNext.Store(true)
}

func (g *Geometric) Config() Config {
	return g.cfg
}

// Solve implements tracking.Solver. Rotation is in degrees: X pitch
// (positive looking down), Y yaw (positive toward the subject's left), Z
// roll. Position is the eye midpoint with Z set to eye distance as a scale
// proxy.
func (g *Geometric) Solve(lm tracking.Landmarks) (tracking.Sample, error) {
	f, err := measure(lm)
	if err != nil {
		return tracking.Sample{}, err
	}
	if g.calibrateNext.CompareAndSwap(true, false) {
		g.cfg.NeutralPitch = f.pitchRatio
		g.cfg.NeutralMouth = f.rightCorner + f.leftCorner
	}

	pitch := (f.pitchRatio - g.cfg.NeutralPitch) * g.cfg.PitchScale
	if g.cfg.MaxPitch > 0 {
		pitch = clamp(pitch, -g.cfg.MaxPitch, g.cfg.MaxPitch)
	}
	yaw := mgl32.RadToDeg(float32(math.Asin(float64(clamp(2*f.yawRatio, -1, 1)))))

	half := g.cfg.NeutralMouth / 2
	smileRight := clamp((f.rightCorner-half)/(g.cfg.SmileRange/2), 0, 1)
	smileLeft := clamp((f.leftCorner-half)/(g.cfg.SmileRange/2), 0, 1)

	return tracking.Sample{
		Active: true,
		ExpressionWeights: map[string]float32{
			"mouthSmileRight": smileRight,
			"mouthSmileLeft":  smileLeft,
		},
		HeadRotation: mgl32.Vec3{pitch, yaw, f.roll},
		HeadPosition: mgl32.Vec3{f.eyeMid.X(), f.eyeMid.Y(), f.eyeDist},
	}, nil
}

type features struct {
	eyeMid      mgl32.Vec3
	eyeDist     float32
	roll        float32 // degrees
	yawRatio    float32 // nose offset along the eye axis / eye distance
	pitchRatio  float32 // nose depth / eye-to-mouth distance
	rightCorner float32 // corner offset from mouth centre / eye distance
	leftCorner  float32
}

func measure(lm tracking.Landmarks) (features, error) {
	if len(lm) < LandmarkCount {
		return features{}, fmt.Errorf("%w: got %d, need %d", ErrTooFewLandmarks, len(lm), LandmarkCount)
	}

	re, le, nose := flat(lm[RightEye]), flat(lm[LeftEye]), flat(lm[Nose])
	rm, lmc := flat(lm[RightMouth]), flat(lm[LeftMouth])

	eyeVec := le.Sub(re)
	eyeDist := eyeVec.Len()
	if eyeDist < 1e-6 {
		return features{}, fmt.Errorf("%w: eyes coincide", ErrDegenerateFace)
	}
	axis := eyeVec.Mul(1 / eyeDist)
	// Perpendicular pointing from eyes toward the mouth (image y down).
	perp := mgl32.Vec2{-axis.Y(), axis.X()}

	eyeMid := re.Add(le).Mul(0.5)
	mouthMid := rm.Add(lmc).Mul(0.5)

	faceHeight := mouthMid.Sub(eyeMid).Dot(perp)
	if faceHeight < 1e-6 {
		return features{}, fmt.Errorf("%w: mouth not below eyes", ErrDegenerateFace)
	}

	toNose := nose.Sub(eyeMid)

	return features{
		eyeMid:      mgl32.Vec3{eyeMid.X(), eyeMid.Y(), 0},
		eyeDist:     eyeDist,
		roll:        mgl32.RadToDeg(float32(math.Atan2(float64(axis.Y()), float64(axis.X())))),
		yawRatio:    toNose.Dot(axis) / eyeDist,
		pitchRatio:  toNose.Dot(perp) / faceHeight,
		rightCorner: -rm.Sub(mouthMid).Dot(axis) / eyeDist,
		leftCorner:  lmc.Sub(mouthMid).Dot(axis) / eyeDist,
	}, nil
}

func flat(v mgl32.Vec3) mgl32.Vec2 {
	return mgl32.Vec2{v.X(), v.Y()}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ tracking.Solver = (*Geometric)(nil)
