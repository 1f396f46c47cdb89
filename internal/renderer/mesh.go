package renderer

import (
	"errors"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexface/internal/rig"
)

// floatsPerVertex is position plus normal.
const floatsPerVertex = 6

// Mesh is a GPU copy of a rig.Model whose positions are rewritten each frame
// from the deformed rig.
type Mesh struct {
	VAO         uint32
	VBO         uint32
	EBO         uint32
	VertexCount int32
	IndexCount  int32

	normals []mgl32.Vec3
	scratch []float32
}

// NewMesh uploads m. Missing normals are computed from the triangles.
func NewMesh(m *rig.Model) (*Mesh, error) {
	if len(m.Positions) == 0 {
		return nil, errors.New("model has no vertices")
	}

	normals := m.Normals
	if len(normals) != len(m.Positions) {
		normals = FaceNormals(m.Positions, m.Indices)
	}

	mesh := &Mesh{
		VertexCount: int32(len(m.Positions)),
		IndexCount:  int32(len(m.Indices)),
		normals:     normals,
	}
	mesh.scratch = Interleave(mesh.scratch, m.Positions, normals)
	mesh.upload(m.Indices)
	return mesh, nil
}

func (m *Mesh) upload(indices []uint32) {
	gl.GenVertexArrays(1, &m.VAO)
	gl.GenBuffers(1, &m.VBO)

	gl.BindVertexArray(m.VAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.VBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(m.scratch)*4, gl.Ptr(m.scratch), gl.DYNAMIC_DRAW)

	stride := int32(floatsPerVertex * 4)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, stride, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 3, gl.FLOAT, false, stride, 3*4)
	gl.EnableVertexAttribArray(1)

	if len(indices) > 0 {
		gl.GenBuffers(1, &m.EBO)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.EBO)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*4, gl.Ptr(indices), gl.STATIC_DRAW)
	}

	gl.BindVertexArray(0)
}

// Update replaces vertex positions. Normals keep their rest values.
func (m *Mesh) Update(positions []mgl32.Vec3) {
	if int32(len(positions)) != m.VertexCount {
		return
	}
	m.scratch = Interleave(m.scratch, positions, m.normals)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.VBO)
	gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(m.scratch)*4, gl.Ptr(m.scratch))
}

func (m *Mesh) Draw() {
	gl.BindVertexArray(m.VAO)
	if m.IndexCount > 0 {
		gl.DrawElements(gl.TRIANGLES, m.IndexCount, gl.UNSIGNED_INT, nil)
	} else {
		gl.DrawArrays(gl.TRIANGLES, 0, m.VertexCount)
	}
	gl.BindVertexArray(0)
}

func (m *Mesh) Delete() {
	gl.DeleteVertexArrays(1, &m.VAO)
	gl.DeleteBuffers(1, &m.VBO)
	if m.EBO != 0 {
		gl.DeleteBuffers(1, &m.EBO)
	}
}

// Interleave packs positions and normals into dst as x,y,z,nx,ny,nz per
// vertex, reusing dst's storage when it is large enough.
func Interleave(dst []float32, positions, normals []mgl32.Vec3) []float32 {
	n := len(positions) * floatsPerVertex
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i, p := range positions {
		var nrm mgl32.Vec3
		if i < len(normals) {
			nrm = normals[i]
		}
		o := i * floatsPerVertex
		dst[o], dst[o+1], dst[o+2] = p[0], p[1], p[2]
		dst[o+3], dst[o+4], dst[o+5] = nrm[0], nrm[1], nrm[2]
	}
	return dst
}

// FaceNormals computes smooth vertex normals by accumulating triangle
// normals. Without indices, consecutive vertex triples form triangles.
func FaceNormals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(positions))

	tri := func(a, b, c int) {
		if a >= len(positions) || b >= len(positions) || c >= len(positions) {
			return
		}
		n := positions[b].Sub(positions[a]).Cross(positions[c].Sub(positions[a]))
		normals[a] = normals[a].Add(n)
		normals[b] = normals[b].Add(n)
		normals[c] = normals[c].Add(n)
	}

	if len(indices) > 0 {
		for i := 0; i+2 < len(indices); i += 3 {
			tri(int(indices[i]), int(indices[i+1]), int(indices[i+2]))
		}
	} else {
		for i := 0; i+2 < len(positions); i += 3 {
			tri(i, i+1, i+2)
		}
	}

	for i, n := range normals {
		if n.Len() > 0 {
			normals[i] = n.Normalize()
		}
	}
	return normals
}
