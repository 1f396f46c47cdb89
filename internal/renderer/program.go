package renderer

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrBuiltinProgram is returned by Rebuild for a program with no stage files.
var ErrBuiltinProgram = errors.New("program has no source files")

// stage is one GLSL stage. path is empty for built-in source.
type stage struct {
	kind   uint32
	path   string
	source string
}

func (s stage) String() string {
	switch s.kind {
	case gl.VERTEX_SHADER:
		return "vertex"
	case gl.FRAGMENT_SHADER:
		return "fragment"
	}
	return fmt.Sprintf("stage 0x%x", s.kind)
}

// Program is a linked vertex+fragment pipeline with cached uniform slots.
type Program struct {
	handle   uint32
	stages   []stage
	uniforms map[string]int32
}

// LoadProgram reads, compiles and links the two stage files. Rebuild
// rereads the same files.
func LoadProgram(vertPath, fragPath string) (*Program, error) {
	stages := []stage{
		{kind: gl.VERTEX_SHADER, path: vertPath},
		{kind: gl.FRAGMENT_SHADER, path: fragPath},
	}
	if err := readStages(stages); err != nil {
		return nil, err
	}
	return link(stages)
}

// BuiltinProgram links in-memory sources.
func BuiltinProgram(vertSrc, fragSrc string) (*Program, error) {
	return link([]stage{
		{kind: gl.VERTEX_SHADER, source: vertSrc},
		{kind: gl.FRAGMENT_SHADER, source: fragSrc},
	})
}

func readStages(stages []stage) error {
	for i := range stages {
		if stages[i].path == "" {
			return fmt.Errorf("%s: %w", stages[i], ErrBuiltinProgram)
		}
		data, err := os.ReadFile(stages[i].path)
		if err != nil {
			return fmt.Errorf("read %s source: %w", stages[i], err)
		}
		stages[i].source = string(data)
	}
	return nil
}

// cString appends the NUL that gl.Strs expects, once.
func cString(src string) string {
	return strings.TrimSuffix(src, "\x00") + "\x00"
}

func link(stages []stage) (*Program, error) {
	handle := gl.CreateProgram()
	for _, st := range stages {
		id, err := compile(st)
		if err != nil {
			gl.DeleteProgram(handle)
			return nil, err
		}
		gl.AttachShader(handle, id)
		// freed together with the program
		gl.DeleteShader(id)
	}
	gl.LinkProgram(handle)

	var ok int32
	gl.GetProgramiv(handle, gl.LINK_STATUS, &ok)
	if ok == gl.FALSE {
		msg := infoLog(handle, gl.GetProgramiv, gl.GetProgramInfoLog)
		gl.DeleteProgram(handle)
		return nil, fmt.Errorf("link: %s", msg)
	}
	return &Program{handle: handle, stages: stages, uniforms: map[string]int32{}}, nil
}

func compile(st stage) (uint32, error) {
	id := gl.CreateShader(st.kind)
	src, free := gl.Strs(cString(st.source))
	gl.ShaderSource(id, 1, src, nil)
	free()
	gl.CompileShader(id)

	var ok int32
	gl.GetShaderiv(id, gl.COMPILE_STATUS, &ok)
	if ok == gl.FALSE {
		msg := infoLog(id, gl.GetShaderiv, gl.GetShaderInfoLog)
		gl.DeleteShader(id)
		return 0, fmt.Errorf("compile %s: %s", st, msg)
	}
	return id, nil
}

// infoLog reads a shader or program log through the matching getters.
func infoLog(obj uint32, param func(uint32, uint32, *int32), read func(uint32, int32, *int32, *uint8)) string {
	var n int32
	param(obj, gl.INFO_LOG_LENGTH, &n)
	if n <= 0 {
		return "no log"
	}
	buf := make([]byte, n+1)
	read(obj, n, nil, &buf[0])
	return strings.TrimRight(string(buf), "\x00\n")
}

// Rebuild rereads the stage files and relinks. The running program stays
// bound to the handle when any step fails.
func (p *Program) Rebuild() error {
	stages := slices.Clone(p.stages)
	if err := readStages(stages); err != nil {
		return err
	}
	next, err := link(stages)
	if err != nil {
		return err
	}
	gl.DeleteProgram(p.handle)
	*p = *next
	return nil
}

func (p *Program) Bind() {
	gl.UseProgram(p.handle)
}

func (p *Program) Release() {
	gl.DeleteProgram(p.handle)
}

func (p *Program) uniform(name string) int32 {
	loc, ok := p.uniforms[name]
	if !ok {
		loc = gl.GetUniformLocation(p.handle, gl.Str(cString(name)))
		p.uniforms[name] = loc
	}
	return loc
}

func (p *Program) UniformInt(name string, v int32) {
	gl.Uniform1i(p.uniform(name), v)
}

func (p *Program) UniformFloat(name string, v float32) {
	gl.Uniform1f(p.uniform(name), v)
}

func (p *Program) UniformVec3(name string, v mgl32.Vec3) {
	gl.Uniform3f(p.uniform(name), v[0], v[1], v[2])
}

func (p *Program) UniformMat4(name string, m mgl32.Mat4) {
	gl.UniformMatrix4fv(p.uniform(name), 1, false, &m[0])
}
