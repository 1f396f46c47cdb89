// Package rig defines the capability the pipeline needs from an avatar rig
// and provides a glTF-backed implementation.
package rig

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Handle is the write surface of a loaded rig. Unknown expression names and
// bone names are ignored.
type Handle interface {
	SetExpressionWeight(name string, value float32)
	BoneNode(name string) (Node, bool)
}

// Node is a rig bone whose local rotation can be set.
type Node interface {
	SetRotation(euler mgl32.Vec3) // radians, XYZ order
	Rotation() mgl32.Vec3
}

// Animator advances internal rig animation (blend easing, spring bones).
type Animator interface {
	Advance(dt float32)
}

// Bone is a settable node.
type Bone struct {
	name     string
	rotation mgl32.Vec3
}

func NewBone(name string) *Bone {
	return &Bone{name: name}
}

func (b *Bone) SetRotation(euler mgl32.Vec3) { b.rotation = euler }

func (b *Bone) Rotation() mgl32.Vec3 { return b.rotation }

// Quat returns the rotation as a quaternion.
func (b *Bone) Quat() mgl32.Quat {
	return mgl32.AnglesToQuat(b.rotation.X(), b.rotation.Y(), b.rotation.Z(), mgl32.XYZ)
}

// MemoryRig records writes in maps. It backs headless runs and tests.
type MemoryRig struct {
	channels map[string]bool
	weights  map[string]float32
	bones    map[string]*Bone
	advanced float32
}

// NewMemoryRig creates a rig exposing the given expression channels and
// bones. With no channels every name is accepted.
func NewMemoryRig(channels []string, bones ...string) *MemoryRig {
	r := &MemoryRig{
		weights: make(map[string]float32),
		bones:   make(map[string]*Bone, len(bones)),
	}
	if len(channels) > 0 {
		r.channels = make(map[string]bool, len(channels))
		for _, c := range channels {
			r.channels[c] = true
		}
	}
	for _, b := range bones {
		r.bones[b] = NewBone(b)
	}
	return r
}

func (r *MemoryRig) SetExpressionWeight(name string, value float32) {
	if r.channels != nil && !r.channels[name] {
		return
	}
	r.weights[name] = value
}

func (r *MemoryRig) BoneNode(name string) (Node, bool) {
	b, ok := r.bones[name]
	if !ok {
		return nil, false
	}
	return b, true
}

func (r *MemoryRig) Advance(dt float32) {
	r.advanced += dt
}

// Weights returns a copy of every written channel.
func (r *MemoryRig) Weights() map[string]float32 {
	out := make(map[string]float32, len(r.weights))
	for k, v := range r.weights {
		out[k] = v
	}
	return out
}

// Bone returns the named bone, or nil.
func (r *MemoryRig) Bone(name string) *Bone {
	return r.bones[name]
}

// Advanced reports the total animation time the rig has been advanced by.
func (r *MemoryRig) Advanced() float32 {
	return r.advanced
}

