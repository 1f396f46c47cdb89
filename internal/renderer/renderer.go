// Package renderer draws the face rig with OpenGL 4.1 in a GLFW window.
// Everything here except ShaderWatcher must run on the locked main thread.
package renderer

import (
	"fmt"
	"path/filepath"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/rig"
)

type Config struct {
	Width     int
	Height    int
	Title     string
	VSync     bool
	MSAA      int
	ShaderDir string // face.vert and face.frag; built-in sources when absent
	HotReload bool
	HeadBone  string
}

func DefaultConfig() Config {
	return Config{
		Width:     800,
		Height:    800,
		Title:     "cortexface",
		VSync:     true,
		MSAA:      4,
		ShaderDir: "assets/shaders",
		HeadBone:  channelmap.BoneHead,
	}
}

// Window owns the GLFW window and GL context. It satisfies loop.Host.
type Window struct {
	window *glfw.Window
}

// NewWindow creates the window and makes its context current. glfw.Init
// must already have succeeded on this thread.
func NewWindow(cfg Config) (*Window, error) {
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	if cfg.MSAA > 0 {
		glfw.WindowHint(glfw.Samples, cfg.MSAA)
	}

	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		window.Destroy()
		return nil, fmt.Errorf("gl init: %w", err)
	}

	if cfg.VSync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}
	return &Window{window: window}, nil
}

func (w *Window) ShouldClose() bool {
	return w.window.ShouldClose()
}

// Present swaps buffers and pumps window events. With vsync on this blocks
// until the next display refresh.
func (w *Window) Present() {
	w.window.SwapBuffers()
	glfw.PollEvents()
}

func (w *Window) FramebufferSize() (int, int) {
	return w.window.GetFramebufferSize()
}

func (w *Window) Destroy() {
	w.window.Destroy()
}

// Renderer draws one ModelRig per frame. It satisfies loop.Scene.
type Renderer struct {
	cfg    Config
	window *Window
	face   *rig.ModelRig
	bus    *bus.EventBus
	logger zerolog.Logger

	program *Program
	camera  *Camera
	lights  *LightingRig
	mesh    *Mesh
	watcher *ShaderWatcher

	deformed []mgl32.Vec3
	fbW, fbH int
}

// New uploads the rig's mesh and compiles the face shader. eventBus may be
// nil.
func New(cfg Config, window *Window, face *rig.ModelRig, eventBus *bus.EventBus, logger zerolog.Logger) (*Renderer, error) {
	r := &Renderer{
		cfg:    cfg,
		window: window,
		face:   face,
		bus:    eventBus,
		logger: logger.With().Str("component", "renderer").Logger(),
		lights: NewStudioLighting(),
	}

	r.camera = NewPortraitCamera(1)
	r.fitViewport()

	if err := r.initProgram(); err != nil {
		return nil, err
	}

	mesh, err := NewMesh(face.Model())
	if err != nil {
		r.program.Release()
		return nil, err
	}
	r.mesh = mesh
	r.frameModel(face.Model())

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	gl.Enable(gl.CULL_FACE)
	gl.CullFace(gl.BACK)
	if cfg.MSAA > 0 {
		gl.Enable(gl.MULTISAMPLE)
	}

	r.logger.Info().
		Int("vertices", len(face.Model().Positions)).
		Int("morph_targets", len(face.Model().MorphTargets)).
		Bool("hot_reload", r.watcher != nil).
		Msg("Renderer ready")
	return r, nil
}

func (r *Renderer) initProgram() error {
	vert := filepath.Join(r.cfg.ShaderDir, "face.vert")
	frag := filepath.Join(r.cfg.ShaderDir, "face.frag")

	prog, err := LoadProgram(vert, frag)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Using built-in face shader")
		prog, err = BuiltinProgram(faceVertSrc, faceFragSrc)
		if err != nil {
			return fmt.Errorf("face shader: %w", err)
		}
		r.program = prog
		return nil
	}
	r.program = prog

	if !r.cfg.HotReload {
		return nil
	}
	watcher, err := NewShaderWatcher(r.logger)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Shader hot reload disabled")
		return nil
	}
	if err := watcher.Watch(vert, frag); err != nil {
		watcher.Close()
		r.logger.Warn().Err(err).Msg("Shader hot reload disabled")
		return nil
	}
	r.watcher = watcher
	return nil
}

// frameModel aims the camera at the model's bounding box.
func (r *Renderer) frameModel(m *rig.Model) {
	if len(m.Positions) == 0 {
		return
	}
	lo, hi := m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = min(lo[i], p[i])
			hi[i] = max(hi[i], p[i])
		}
	}
	r.camera.Frame(lo, hi)
}

// Draw reloads changed shaders, deforms the mesh from the rig's current
// weights and draws it posed by the head bone.
func (r *Renderer) Draw() {
	r.reloadShaders()
	r.fitViewport()

	gl.ClearColor(0.1, 0.1, 0.12, 1.0)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	r.deformed = r.face.Deform(r.deformed)
	r.mesh.Update(r.deformed)

	r.program.Bind()
	r.program.UniformMat4("uProjection", r.camera.ProjectionMatrix())
	r.program.UniformMat4("uView", r.camera.ViewMatrix())
	r.program.UniformMat4("uModel", r.modelMatrix())
	r.program.UniformVec3("uCameraPos", r.camera.Position)
	r.program.UniformVec3("uAlbedo", mgl32.Vec3{0.86, 0.72, 0.64})
	r.lights.Upload(r.program)

	r.mesh.Draw()
}

// modelMatrix rotates the mesh about the camera target by the head bone.
func (r *Renderer) modelMatrix() mgl32.Mat4 {
	head := r.face.Bone(r.cfg.HeadBone)
	if head == nil {
		return mgl32.Ident4()
	}
	pivot := r.camera.Target
	return mgl32.Translate3D(pivot.X(), pivot.Y(), pivot.Z()).
		Mul4(head.Quat().Mat4()).
		Mul4(mgl32.Translate3D(-pivot.X(), -pivot.Y(), -pivot.Z()))
}

func (r *Renderer) reloadShaders() {
	if r.watcher == nil {
		return
	}
	changed := r.watcher.Drain()
	if len(changed) == 0 {
		return
	}
	if err := r.program.Rebuild(); err != nil {
		r.logger.Warn().Err(err).Strs("files", changed).Msg("Shader reload failed, keeping previous program")
		return
	}
	r.logger.Info().Strs("files", changed).Msg("Shader reloaded")
	if r.bus != nil {
		r.bus.Publish(bus.Event{
			Type: bus.EventShaderReloaded,
			Data: map[string]any{"files": changed},
		})
	}
}

// fitViewport follows framebuffer resizes. A minimised window reports a
// zero height and keeps the previous aspect.
func (r *Renderer) fitViewport() {
	w, h := r.window.FramebufferSize()
	if w == r.fbW && h == r.fbH {
		return
	}
	r.fbW, r.fbH = w, h
	gl.Viewport(0, 0, int32(w), int32(h))
	if h > 0 {
		r.camera.SetAspectRatio(float32(w) / float32(h))
	}
}

// Close releases GL objects and stops the shader watcher.
func (r *Renderer) Close() error {
	var err error
	if r.watcher != nil {
		err = r.watcher.Close()
	}
	r.mesh.Delete()
	r.program.Release()
	return err
}

var faceVertSrc = `#version 410 core

layout(location = 0) in vec3 aPosition;
layout(location = 1) in vec3 aNormal;

out vec3 vPosition;
out vec3 vNormal;

uniform mat4 uModel;
uniform mat4 uView;
uniform mat4 uProjection;

void main() {
    vec4 worldPos = uModel * vec4(aPosition, 1.0);
    vPosition = worldPos.xyz;
    vNormal = normalize(mat3(transpose(inverse(uModel))) * aNormal);
    gl_Position = uProjection * uView * worldPos;
}
` + "\x00"

var faceFragSrc = `#version 410 core

in vec3 vPosition;
in vec3 vNormal;

out vec4 FragColor;

uniform vec3 uCameraPos;
uniform vec3 uAlbedo;
uniform vec3 uAmbientColor;

struct Light {
    vec3 position;
    vec3 color;
    float intensity;
};

#define MAX_LIGHTS 4
uniform Light uLights[MAX_LIGHTS];
uniform int uLightCount;

void main() {
    vec3 N = normalize(vNormal);
    vec3 V = normalize(uCameraPos - vPosition);
    vec3 Lo = vec3(0.0);

    for (int i = 0; i < uLightCount && i < MAX_LIGHTS; i++) {
        vec3 L = normalize(uLights[i].position - vPosition);
        float d = length(uLights[i].position - vPosition);
        vec3 radiance = uLights[i].color * uLights[i].intensity / (d * d);

        float NdotL = max(dot(N, L), 0.0);
        vec3 H = normalize(V + L);
        float spec = pow(max(dot(N, H), 0.0), 24.0) * 0.15;
        Lo += (uAlbedo * NdotL + vec3(spec)) * radiance;
    }

    vec3 color = uAmbientColor * uAlbedo + Lo;
    color = color / (color + vec3(1.0));
    FragColor = vec4(pow(color, vec3(1.0 / 2.2)), 1.0);
}
` + "\x00"
