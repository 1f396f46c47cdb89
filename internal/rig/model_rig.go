package rig

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ModelRig drives the morph targets and nodes of a loaded Model. Expression
// channels are morph target names and bones are node names.
//
// Weights written through SetExpressionWeight are targets; Advance eases the
// current weights toward them. An easing of 0 applies targets immediately.
// A ModelRig is owned by the render goroutine.
type ModelRig struct {
	model   *Model
	index   map[string]int
	target  []float32
	current []float32
	bones   map[string]*Bone
	easing  float32
}

func NewModelRig(model *Model, easing float32) *ModelRig {
	if easing < 0 || easing >= 1 {
		easing = 0
	}
	r := &ModelRig{
		model:   model,
		index:   make(map[string]int, len(model.MorphTargets)),
		target:  make([]float32, len(model.MorphTargets)),
		current: make([]float32, len(model.MorphTargets)),
		bones:   make(map[string]*Bone, len(model.NodeNames)),
		easing:  easing,
	}
	for i, t := range model.MorphTargets {
		if _, dup := r.index[t.Name]; !dup {
			r.index[t.Name] = i
		}
	}
	for _, n := range model.NodeNames {
		r.bones[n] = NewBone(n)
	}
	return r
}

func (r *ModelRig) Model() *Model {
	return r.model
}

func (r *ModelRig) SetExpressionWeight(name string, value float32) {
	i, ok := r.index[name]
	if !ok {
		return
	}
	r.target[i] = value
	if r.easing == 0 {
		r.current[i] = value
	}
}

func (r *ModelRig) BoneNode(name string) (Node, bool) {
	b, ok := r.bones[name]
	if !ok {
		return nil, false
	}
	return b, true
}

// Bone returns the concrete bone for drawing, or nil.
func (r *ModelRig) Bone(name string) *Bone {
	return r.bones[name]
}

// HasChannel reports whether the model exposes an expression channel.
func (r *ModelRig) HasChannel(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Advance eases current weights toward their targets. The per-step factor is
// frame-rate independent: 1-(1-easing)^(dt*60).
func (r *ModelRig) Advance(dt float32) {
	if r.easing == 0 {
		return
	}
	step := r.easing
	if dt > 0 {
		step = 1 - float32(math.Pow(float64(1-r.easing), float64(dt*60)))
	}
	for i := range r.current {
		r.current[i] += (r.target[i] - r.current[i]) * step
	}
}

// Deform writes base positions plus weighted morph deltas into dst, growing
// it as needed, and returns it.
func (r *ModelRig) Deform(dst []mgl32.Vec3) []mgl32.Vec3 {
	base := r.model.Positions
	if cap(dst) < len(base) {
		dst = make([]mgl32.Vec3, len(base))
	}
	dst = dst[:len(base)]
	copy(dst, base)

	for ti, target := range r.model.MorphTargets {
		w := r.current[ti]
		if w < 0.001 {
			continue
		}
		for vi, delta := range target.PositionDeltas {
			if vi < len(dst) {
				dst[vi] = dst[vi].Add(delta.Mul(w))
			}
		}
	}
	return dst
}
