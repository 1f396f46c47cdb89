// Package applier writes tracking and audio samples onto a rig once per
// render tick.
package applier

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/rig"
	"github.com/normanking/cortexface/internal/tracking"
)

// DefaultHeadDamping scales head rotation before it reaches the bone.
const DefaultHeadDamping = 0.5

type Config struct {
	HeadDamping float32
}

func DefaultConfig() Config {
	return Config{HeadDamping: DefaultHeadDamping}
}

// Report summarises one Apply call.
type Report struct {
	Written   int  // expression writes, collisions counted once per write
	Misses    int  // sample names with no table entry
	HeadPosed bool // the head bone received a rotation
}

// Applier maps sample channels through a Table onto a rig.Handle. It holds
// no per-tick state and is safe to reuse across ticks on one goroutine.
type Applier struct {
	table   *channelmap.Table
	damping float32
}

func New(table *channelmap.Table, cfg Config) *Applier {
	if table == nil {
		table = channelmap.Default()
	}
	return &Applier{
		table:   table,
		damping: channelmap.Clamp(cfg.HeadDamping, 0, 1),
	}
}

func (a *Applier) Table() *channelmap.Table {
	return a.table
}

// Apply writes one tick. Order matters when two sources share a target:
// tracking expressions first, then audio visemes, each in table order, so
// the last write wins. An inactive tracking sample writes nothing and leaves
// the head alone. hasAudio false means no audio sample exists at all.
func (a *Applier) Apply(h rig.Handle, ts tracking.Sample, env audio.EnvelopeSample, hasAudio bool) Report {
	var r Report

	if ts.Active {
		for name := range ts.ExpressionWeights {
			if !a.table.Has(name) {
				r.Misses++
			}
		}
		a.table.Each(channelmap.KindExpression, func(e channelmap.Entry) {
			w, ok := ts.ExpressionWeights[e.Source]
			if !ok {
				return
			}
			h.SetExpressionWeight(e.Target, channelmap.Clamp(e.Transform.Apply(w), 0, 1))
			r.Written++
		})
	}

	if hasAudio {
		for v := range env.Visemes {
			if !a.table.Has(string(v)) {
				r.Misses++
			}
		}
		a.table.Each(channelmap.KindExpression, func(e channelmap.Entry) {
			w, ok := env.Visemes[audio.Viseme(e.Source)]
			if !ok {
				return
			}
			h.SetExpressionWeight(e.Target, channelmap.Clamp(e.Transform.Apply(w), 0, 1))
			r.Written++
		})
	}

	if ts.Active {
		r.HeadPosed = a.poseHead(h, ts.HeadRotation)
	}

	return r
}

func (a *Applier) poseHead(h rig.Handle, degrees mgl32.Vec3) bool {
	e, err := a.table.Lookup(channelmap.SourceHeadRotation)
	if err != nil || e.Kind != channelmap.KindBone {
		return false
	}
	node, ok := h.BoneNode(e.Target)
	if !ok {
		return false
	}

	var rot mgl32.Vec3
	for i := range rot {
		rot[i] = e.Transform.Apply(mgl32.DegToRad(degrees[i]) * a.damping)
	}
	node.SetRotation(rot)
	return true
}
