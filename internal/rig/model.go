package rig

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

var ErrNoMesh = errors.New("no mesh with geometry in model")

// MorphTarget is one named blend shape.
type MorphTarget struct {
	Name           string
	PositionDeltas []mgl32.Vec3
}

// Model is the subset of a glTF asset the rig and renderer use: the first
// mesh primitive, its morph targets and every node name.
type Model struct {
	Path         string
	MeshName     string
	Positions    []mgl32.Vec3
	Normals      []mgl32.Vec3
	Indices      []uint32
	MorphTargets []MorphTarget
	NodeNames    []string
}

// MorphNames returns morph target names in target order.
func (m *Model) MorphNames() []string {
	names := make([]string, len(m.MorphTargets))
	for i, t := range m.MorphTargets {
		names[i] = t.Name
	}
	return names
}

// LoadModel reads a .gltf or .glb file.
func LoadModel(path string) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	m, err := ModelFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ModelFromDocument extracts a Model from a decoded document. Morph target
// names come from the "targetNames" extras on the mesh or primitive; targets
// without a name are called target_<i>.
func ModelFromDocument(doc *gltf.Document) (*Model, error) {
	var (
		mesh *gltf.Mesh
		prim *gltf.Primitive
	)
	for _, candidate := range doc.Meshes {
		for _, p := range candidate.Primitives {
			if _, ok := p.Attributes[gltf.POSITION]; ok {
				mesh, prim = candidate, p
				break
			}
		}
		if prim != nil {
			break
		}
	}
	if prim == nil {
		return nil, ErrNoMesh
	}

	m := &Model{MeshName: mesh.Name}

	positions, err := readVec3(doc, prim.Attributes[gltf.POSITION])
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	m.Positions = positions

	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		normals, err := readNormals(doc, idx)
		if err != nil {
			return nil, fmt.Errorf("read normals: %w", err)
		}
		m.Normals = normals
	} else {
		m.Normals = make([]mgl32.Vec3, len(positions))
	}

	if prim.Indices != nil {
		m.Indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
		if err != nil {
			return nil, fmt.Errorf("read indices: %w", err)
		}
	}

	names := targetNames(mesh.Extras)
	if len(names) == 0 {
		names = targetNames(prim.Extras)
	}
	for i, target := range prim.Targets {
		mt := MorphTarget{Name: fmt.Sprintf("target_%d", i)}
		if i < len(names) && names[i] != "" {
			mt.Name = names[i]
		}
		if idx, ok := target[gltf.POSITION]; ok {
			mt.PositionDeltas, err = readVec3(doc, idx)
			if err != nil {
				return nil, fmt.Errorf("read morph target %q: %w", mt.Name, err)
			}
		}
		m.MorphTargets = append(m.MorphTargets, mt)
	}

	for _, n := range doc.Nodes {
		if n.Name != "" {
			m.NodeNames = append(m.NodeNames, n.Name)
		}
	}

	return m, nil
}

func targetNames(extras any) []string {
	ext, ok := extras.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := ext["targetNames"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			names[i] = s
		}
	}
	return names
}

func readVec3(doc *gltf.Document, accessor int) ([]mgl32.Vec3, error) {
	if accessor < 0 || accessor >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", accessor)
	}
	raw, err := modeler.ReadPosition(doc, doc.Accessors[accessor], nil)
	if err != nil {
		return nil, err
	}
	return toVec3(raw), nil
}

func readNormals(doc *gltf.Document, accessor int) ([]mgl32.Vec3, error) {
	if accessor < 0 || accessor >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", accessor)
	}
	raw, err := modeler.ReadNormal(doc, doc.Accessors[accessor], nil)
	if err != nil {
		return nil, err
	}
	return toVec3(raw), nil
}

func toVec3(raw [][3]float32) []mgl32.Vec3 {
	out := make([]mgl32.Vec3, len(raw))
	for i, v := range raw {
		out[i] = mgl32.Vec3(v)
	}
	return out
}
