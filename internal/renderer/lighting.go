package renderer

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Light is a point light.
type Light struct {
	Position  mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
}

// LightingRig is the set of lights uploaded with every draw.
type LightingRig struct {
	Lights       []Light
	AmbientColor mgl32.Vec3
}

// NewStudioLighting is a key, fill and rim setup around a head at the origin.
func NewStudioLighting() *LightingRig {
	return &LightingRig{
		Lights: []Light{
			{Position: mgl32.Vec3{1.5, 1.0, 1.5}, Color: mgl32.Vec3{1.0, 0.98, 0.95}, Intensity: 8.0},
			{Position: mgl32.Vec3{-1.2, 0.5, 1.2}, Color: mgl32.Vec3{0.95, 0.97, 1.0}, Intensity: 4.0},
			{Position: mgl32.Vec3{0, 1.0, -1.0}, Color: mgl32.Vec3{1.0, 0.95, 0.9}, Intensity: 3.0},
		},
		AmbientColor: mgl32.Vec3{0.15, 0.15, 0.18},
	}
}

// Upload writes the light array and ambient term to p, which must be bound.
func (rig *LightingRig) Upload(p *Program) {
	for i, light := range rig.Lights {
		prefix := fmt.Sprintf("uLights[%d].", i)
		p.UniformVec3(prefix+"position", light.Position)
		p.UniformVec3(prefix+"color", light.Color)
		p.UniformFloat(prefix+"intensity", light.Intensity)
	}
	p.UniformInt("uLightCount", int32(len(rig.Lights)))
	p.UniformVec3("uAmbientColor", rig.AmbientColor)
}
