package renderer

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a perspective camera looking at a target.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	FOV         float32 // vertical, degrees
	AspectRatio float32
	NearPlane   float32
	FarPlane    float32

	viewMatrix       mgl32.Mat4
	projectionMatrix mgl32.Mat4
	dirty            bool
}

func NewCamera(position, target, up mgl32.Vec3, fov, aspect, near, far float32) *Camera {
	c := &Camera{
		Position:    position,
		Target:      target,
		Up:          up,
		FOV:         fov,
		AspectRatio: aspect,
		NearPlane:   near,
		FarPlane:    far,
	}
	c.updateMatrices()
	return c
}

// NewPortraitCamera frames a head at the origin with a narrow lens.
func NewPortraitCamera(aspect float32) *Camera {
	return NewCamera(
		mgl32.Vec3{0, 0.1, 1.2},
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 1, 0},
		24.0,
		aspect,
		0.01, 100.0,
	)
}

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	if c.dirty {
		c.updateMatrices()
	}
	return c.viewMatrix
}

func (c *Camera) ProjectionMatrix() mgl32.Mat4 {
	if c.dirty {
		c.updateMatrices()
	}
	return c.projectionMatrix
}

func (c *Camera) updateMatrices() {
	c.viewMatrix = mgl32.LookAtV(c.Position, c.Target, c.Up)
	c.projectionMatrix = mgl32.Perspective(mgl32.DegToRad(c.FOV), c.AspectRatio, c.NearPlane, c.FarPlane)
	c.dirty = false
}

func (c *Camera) SetAspectRatio(aspect float32) {
	c.AspectRatio = aspect
	c.dirty = true
}

// Frame targets the centre of the box [lo, hi] and backs off along +Z until
// the box height fits the vertical field of view with some margin.
func (c *Camera) Frame(lo, hi mgl32.Vec3) {
	center := lo.Add(hi).Mul(0.5)
	extent := hi.Sub(lo)
	height := max(extent.Y(), extent.X()/max(c.AspectRatio, 0.01))
	if height <= 0 {
		height = 1
	}

	halfFOV := float64(mgl32.DegToRad(c.FOV) / 2)
	distance := (height * 0.6) / float32(math.Tan(halfFOV))

	c.Target = center
	c.Position = center.Add(mgl32.Vec3{0, height * 0.05, distance + extent.Z()/2})
	c.dirty = true
}
