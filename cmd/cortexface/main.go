// Command cortexface drives a face rig from a webcam and microphone.
//
// Camera frames are decimated, reduced to landmarks by YuNet and solved into
// expression weights and a head pose. Microphone PCM is read from stdin and
// turned into vowel visemes. Both are applied to the rig once per rendered
// frame.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/config"
	"github.com/normanking/cortexface/internal/engine"
	"github.com/normanking/cortexface/internal/logging"
	"github.com/normanking/cortexface/internal/loop"
	"github.com/normanking/cortexface/internal/metrics"
	"github.com/normanking/cortexface/internal/renderer"
	"github.com/normanking/cortexface/internal/rig"
	"github.com/normanking/cortexface/internal/solver"
	"github.com/normanking/cortexface/internal/vision"
)

func init() {
	// GLFW and OpenGL calls must stay on the main thread.
	runtime.LockOSThread()
}

type flags struct {
	configPath  string
	headless    bool
	noCamera    bool
	device      int
	yunetModel  string
	rigModel    string
	audioStdin  bool
	metricsAddr string
	logLevel    string
	calibrate   bool
	writeConfig string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "config file (default: ./cortexface.yaml or ~/.cortexface/cortexface.yaml)")
	flag.BoolVar(&f.headless, "headless", false, "run without a window")
	flag.BoolVar(&f.noCamera, "no-camera", false, "disable face tracking")
	flag.IntVar(&f.device, "camera", -1, "camera device id")
	flag.StringVar(&f.yunetModel, "yunet", "", "YuNet face detection model")
	flag.StringVar(&f.rigModel, "model", "", "glTF face model")
	flag.BoolVar(&f.audioStdin, "audio-stdin", false, "read 16-bit mono PCM from stdin")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	flag.BoolVar(&f.calibrate, "calibrate", false, "take the first tracked face as the neutral pose")
	flag.StringVar(&f.writeConfig, "write-config", "", "write the effective config to this file and exit")
	flag.Parse()
	return f
}

func (f flags) apply(cfg *config.Config) {
	if f.headless {
		cfg.Render.Headless = true
	}
	if f.noCamera {
		cfg.Tracking.Enabled = false
	}
	if f.device >= 0 {
		cfg.Camera.Device = f.device
	}
	if f.yunetModel != "" {
		cfg.Camera.ModelPath = f.yunetModel
	}
	if f.rigModel != "" {
		cfg.Rig.ModelPath = f.rigModel
	}
	if !f.audioStdin {
		cfg.Audio.Enabled = false
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "cortexface: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if f.writeConfig != "" {
		if err := config.Save(cfg, f.writeConfig); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(os.Stderr, "cortexface: config written to %s\n", f.writeConfig)
		return nil
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		LogDir:  cfg.Log.Dir,
		Console: cfg.Log.Console,
		Out:     os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := cfg.MappingTable()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Runtime)
		srv := serveMetrics(cfg.Metrics.Addr, m, log)
		defer shutdownServer(srv, log)
	}

	eventBus := bus.NewEventBus()
	unsubscribe := eventBus.SubscribeMultiple([]bus.EventType{
		bus.EventTrackingStarted,
		bus.EventTrackingStopped,
		bus.EventTrackingStateChanged,
		bus.EventAudioStarted,
		bus.EventAudioStopped,
		bus.EventSensorUnavailable,
		bus.EventShaderReloaded,
	}, func(ev bus.Event) {
		log.Debug().Str("event", string(ev.Type)).Interface("data", ev.Data).Msg("Event")
	})
	defer unsubscribe()

	face, err := loadFace(cfg, log)
	if err != nil && !cfg.Render.Headless {
		return err
	}

	var handle rig.Handle
	var animator rig.Animator
	if face != nil {
		handle, animator = face, face
		missing := 0
		table.Each(channelmap.KindExpression, func(e channelmap.Entry) {
			if !face.HasChannel(e.Target) {
				missing++
			}
		})
		if missing > 0 {
			log.Warn().Int("channels", missing).Msg("Model lacks some mapped expression channels")
		}
	} else {
		mem := rig.NewMemoryRig(nil, channelmap.BoneHead)
		handle, animator = mem, mem
	}

	eng := engine.New(engine.Config{
		Tracking: cfg.TrackingConfig(),
		Audio:    cfg.AudioConfig(),
		Applier:  cfg.ApplierConfig(),
	}, table, handle, eventBus, m, logger.Component("engine"))
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn().Err(err).Msg("Engine shutdown")
		}
	}()

	log.Info().
		Str("session", eng.SessionID()).
		Bool("headless", cfg.Render.Headless).
		Bool("tracking", cfg.Tracking.Enabled).
		Bool("audio", cfg.Audio.Enabled).
		Str("log_file", logger.LogPath()).
		Msg("Starting cortexface")

	if cfg.Tracking.Enabled {
		release := startTracking(ctx, cfg, f.calibrate, eng, m, logger.Component("vision"))
		defer release()
	}
	if cfg.Audio.Enabled {
		// one chunk per estimator tick
		chunk := cfg.AudioConfig().ChunkSamples()
		stream := audio.NewPCMReaderSource(os.Stdin, chunk, logger.Component("audio"))
		if err := eng.StartAudio(ctx, stream, nil); err != nil {
			log.Warn().Err(err).Msg("Audio disabled")
		}
	}

	if cfg.Render.Headless {
		return runHeadless(ctx, cfg, animator, eng, logger.Component("loop"))
	}
	return runWindowed(ctx, cfg, face, eng, eventBus, logger)
}

func loadFace(cfg *config.Config, log zerolog.Logger) (*rig.ModelRig, error) {
	model, err := rig.LoadModel(cfg.Rig.ModelPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Rig.ModelPath).Msg("Face model not loaded")
		return nil, fmt.Errorf("load face model: %w", err)
	}
	log.Info().
		Str("path", model.Path).
		Int("vertices", len(model.Positions)).
		Strs("morph_targets", model.MorphNames()).
		Msg("Face model loaded")
	return rig.NewModelRig(model, cfg.Rig.Easing), nil
}

// startTracking opens the camera and detector. Failures leave tracking
// uninitialized and the rest of the pipeline keeps running. The returned
// function releases the detector.
func startTracking(ctx context.Context, cfg *config.Config, calibrate bool, eng *engine.Engine, m *metrics.Metrics, log zerolog.Logger) func() {
	vcfg := vision.DefaultConfig()
	vcfg.DeviceID = cfg.Camera.Device
	vcfg.Width = cfg.Camera.Width
	vcfg.Height = cfg.Camera.Height
	vcfg.FPS = cfg.Camera.FPS
	vcfg.ModelPath = cfg.Camera.ModelPath
	vcfg.ConfidenceThresh = cfg.Camera.Confidence

	var drops vision.DropRecorder
	if m != nil {
		drops = m
	}
	cam, err := vision.OpenCamera(vcfg, drops, log)
	if err != nil {
		log.Warn().Err(err).Int("device", vcfg.DeviceID).Msg("Camera unavailable")
		// reported to metrics and the bus as an unavailable sensor
		_ = eng.StartTracking(ctx, nil, nil, nil)
		return func() {}
	}

	detector, err := vision.NewYuNet(vcfg)
	if err != nil {
		cam.Close()
		log.Warn().Err(err).Str("model", vcfg.ModelPath).Msg("Face detector unavailable, tracking disabled")
		eng.ReportSensorUnavailable(engine.SensorCamera, err)
		return func() {}
	}

	geo := solver.New(solver.DefaultConfig())
	if calibrate {
		geo.CalibrateNext()
		log.Info().Msg("Calibrating: the first tracked face becomes the neutral pose")
	}

	if err := eng.StartTracking(ctx, cam, detector, geo); err != nil {
		cam.Close()
		detector.Close()
		log.Warn().Err(err).Msg("Tracking disabled")
		return func() {}
	}
	return func() {
		_ = eng.StopTracking()
		detector.Close()
	}
}

func runHeadless(ctx context.Context, cfg *config.Config, animator rig.Animator, eng *engine.Engine, log zerolog.Logger) error {
	host := loop.NewTickerHost(time.Second / time.Duration(cfg.Render.HeadlessFPS))
	defer host.Close()

	l := loop.New(animator, eng, nil, eng.ObserveFPS, log)
	err := l.Run(ctx, host)

	// Without a model the memory rig is the only record of what was driven.
	if mem, ok := animator.(*rig.MemoryRig); ok {
		ev := log.Info().
			Str("tracking", eng.TrackingState().String()).
			Float32("animated_seconds", mem.Advanced()).
			Interface("weights", mem.Weights())
		if head := mem.Bone(channelmap.BoneHead); head != nil {
			ev = ev.Interface("head_rotation", head.Rotation())
		}
		ev.Msg("Headless run finished")
	}
	return err
}

func runWindowed(ctx context.Context, cfg *config.Config, face *rig.ModelRig, eng *engine.Engine, eventBus *bus.EventBus, logger *logging.Logger) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("init glfw: %w", err)
	}
	defer glfw.Terminate()

	rcfg := renderer.DefaultConfig()
	rcfg.Title = cfg.Render.Title
	rcfg.Width = cfg.Render.Width
	rcfg.Height = cfg.Render.Height
	rcfg.VSync = cfg.Render.VSync
	rcfg.ShaderDir = cfg.Render.ShaderDir
	rcfg.HotReload = cfg.Render.HotReload

	window, err := renderer.NewWindow(rcfg)
	if err != nil {
		return err
	}
	defer window.Destroy()

	scene, err := renderer.New(rcfg, window, face, eventBus, logger.Component("renderer"))
	if err != nil {
		return err
	}
	defer scene.Close()

	l := loop.New(face, eng, scene, eng.ObserveFPS, logger.Component("loop"))
	return l.Run(ctx, window)
}

func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown")
	}
}
