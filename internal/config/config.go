// Package config loads cortexface settings from a YAML file, .env files and
// CORTEXFACE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/normanking/cortexface/internal/applier"
	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/channelmap"
	"github.com/normanking/cortexface/internal/tracking"
)

const envPrefix = "CORTEXFACE"

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Rig      RigConfig      `mapstructure:"rig"`
	Render   RenderConfig   `mapstructure:"render"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Mapping  MappingConfig  `mapstructure:"mapping"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// TrackingConfig configures the tracking producer.
type TrackingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Decimation int     `mapstructure:"decimation" validate:"gte=1,lte=60"`
	Smoothing  float32 `mapstructure:"smoothing" validate:"gte=0,lt=1"`
}

// CameraConfig configures the capture device and landmark detector.
type CameraConfig struct {
	Device     int     `mapstructure:"device" validate:"gte=0"`
	Width      int     `mapstructure:"width" validate:"gte=0"`
	Height     int     `mapstructure:"height" validate:"gte=0"`
	FPS        int     `mapstructure:"fps" validate:"gte=0,lte=240"`
	ModelPath  string  `mapstructure:"model_path"`
	Confidence float64 `mapstructure:"confidence" validate:"gt=0,lte=1"`
}

// AudioConfig configures the envelope estimator.
type AudioConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Tick        time.Duration `mapstructure:"tick" validate:"gt=0"`
	Bins        int           `mapstructure:"bins" validate:"oneof=32 64 128 256 512 1024"`
	SampleRate  int           `mapstructure:"sample_rate" validate:"gte=8000,lte=192000"`
	Smoothing   float64       `mapstructure:"smoothing" validate:"gte=0,lt=1"`
	MinDecibels float64       `mapstructure:"min_decibels" validate:"ltfield=MaxDecibels"`
	MaxDecibels float64       `mapstructure:"max_decibels" validate:"lte=0"`
}

type RigConfig struct {
	ModelPath   string  `mapstructure:"model_path"`
	HeadDamping float32 `mapstructure:"head_damping" validate:"gte=0,lte=1"`
	Easing      float32 `mapstructure:"easing" validate:"gte=0,lt=1"`
}

type RenderConfig struct {
	Title       string `mapstructure:"title"`
	Width       int    `mapstructure:"width" validate:"gte=64"`
	Height      int    `mapstructure:"height" validate:"gte=64"`
	VSync       bool   `mapstructure:"vsync"`
	ShaderDir   string `mapstructure:"shader_dir"`
	HotReload   bool   `mapstructure:"hot_reload"`
	Headless    bool   `mapstructure:"headless"`
	HeadlessFPS int    `mapstructure:"headless_fps" validate:"gte=1,lte=1000"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Runtime bool   `mapstructure:"runtime"`
}

// MappingConfig overrides the built-in channel mapping when Entries is set.
type MappingConfig struct {
	Entries []MappingEntry `mapstructure:"entries" validate:"dive"`
}

type MappingEntry struct {
	Source string  `mapstructure:"source" validate:"required"`
	Target string  `mapstructure:"target" validate:"required"`
	Kind   string  `mapstructure:"kind" validate:"omitempty,oneof=expression bone"`
	Scale  float32 `mapstructure:"scale"`
	Negate bool    `mapstructure:"negate"`
	Clamp  bool    `mapstructure:"clamp"`
	Min    float32 `mapstructure:"min"`
	Max    float32 `mapstructure:"max"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Tracking: TrackingConfig{
			Enabled:    true,
			Decimation: tracking.DefaultDecimation,
			Smoothing:  0,
		},
		Camera: CameraConfig{
			Device:     0,
			Width:      640,
			Height:     480,
			FPS:        30,
			ModelPath:  "models/face_detection_yunet_2023mar.onnx",
			Confidence: 0.6,
		},
		Audio: AudioConfig{
			Enabled:     true,
			Tick:        33 * time.Millisecond,
			Bins:        128,
			SampleRate:  16000,
			Smoothing:   0.8,
			MinDecibels: -100,
			MaxDecibels: -30,
		},
		Rig: RigConfig{
			ModelPath:   "assets/models/avatar.glb",
			HeadDamping: applier.DefaultHeadDamping,
			Easing:      0,
		},
		Render: RenderConfig{
			Title:       "cortexface",
			Width:       800,
			Height:      800,
			VSync:       true,
			ShaderDir:   "assets/shaders",
			HotReload:   false,
			HeadlessFPS: 60,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Runtime: true,
		},
	}
}

// Load reads configuration. path may name a config file; when empty,
// cortexface.yaml is searched in the working directory and ~/.cortexface.
// A missing file is not an error. .env in the working directory is loaded
// first so its values act as environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cortexface")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the mapping builds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.MappingTable(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MappingTable builds the channel table, falling back to the default table
// when no entries are configured.
func (c *Config) MappingTable() (*channelmap.Table, error) {
	if len(c.Mapping.Entries) == 0 {
		return channelmap.Default(), nil
	}

	entries := make([]channelmap.Entry, 0, len(c.Mapping.Entries))
	for _, me := range c.Mapping.Entries {
		kind, err := channelmap.ParseKind(me.Kind)
		if err != nil {
			return nil, err
		}
		scale := me.Scale
		if scale == 0 {
			scale = 1
		}
		entries = append(entries, channelmap.Entry{
			Source: me.Source,
			Target: me.Target,
			Kind:   kind,
			Transform: channelmap.Transform{
				Scale:  scale,
				Negate: me.Negate,
				Clamp:  me.Clamp,
				Min:    me.Min,
				Max:    me.Max,
			},
		})
	}
	return channelmap.New(entries)
}

func (c *Config) TrackingConfig() tracking.Config {
	return tracking.Config{
		Decimation: c.Tracking.Decimation,
		Smoothing:  c.Tracking.Smoothing,
	}
}

func (c *Config) AudioConfig() audio.Config {
	return audio.Config{
		Tick:        c.Audio.Tick,
		Bins:        c.Audio.Bins,
		SampleRate:  c.Audio.SampleRate,
		Smoothing:   c.Audio.Smoothing,
		MinDecibels: c.Audio.MinDecibels,
		MaxDecibels: c.Audio.MaxDecibels,
	}
}

func (c *Config) ApplierConfig() applier.Config {
	return applier.Config{HeadDamping: c.Rig.HeadDamping}
}

// Save writes cfg as YAML to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	v := viper.New()
	for k, val := range flatten(cfg) {
		v.Set(k, val)
	}
	if len(cfg.Mapping.Entries) > 0 {
		entries := make([]map[string]any, 0, len(cfg.Mapping.Entries))
		for _, e := range cfg.Mapping.Entries {
			entries = append(entries, map[string]any{
				"source": e.Source,
				"target": e.Target,
				"kind":   e.Kind,
				"scale":  e.Scale,
				"negate": e.Negate,
				"clamp":  e.Clamp,
				"min":    e.Min,
				"max":    e.Max,
			})
		}
		v.Set("mapping.entries", entries)
	}
	v.SetConfigType("yaml")
	return v.WriteConfigAs(path)
}

// ConfigDir returns ~/.cortexface.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexface"), nil
}

// setDefaults registers every scalar key so environment overrides reach
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	for k, val := range flatten(d) {
		v.SetDefault(k, val)
	}
}

func flatten(d *Config) map[string]any {
	return map[string]any{
		"log.level":   d.Log.Level,
		"log.dir":     d.Log.Dir,
		"log.console": d.Log.Console,

		"tracking.enabled":    d.Tracking.Enabled,
		"tracking.decimation": d.Tracking.Decimation,
		"tracking.smoothing":  d.Tracking.Smoothing,

		"camera.device":     d.Camera.Device,
		"camera.width":      d.Camera.Width,
		"camera.height":     d.Camera.Height,
		"camera.fps":        d.Camera.FPS,
		"camera.model_path": d.Camera.ModelPath,
		"camera.confidence": d.Camera.Confidence,

		"audio.enabled":      d.Audio.Enabled,
		"audio.tick":         d.Audio.Tick,
		"audio.bins":         d.Audio.Bins,
		"audio.sample_rate":  d.Audio.SampleRate,
		"audio.smoothing":    d.Audio.Smoothing,
		"audio.min_decibels": d.Audio.MinDecibels,
		"audio.max_decibels": d.Audio.MaxDecibels,

		"rig.model_path":   d.Rig.ModelPath,
		"rig.head_damping": d.Rig.HeadDamping,
		"rig.easing":       d.Rig.Easing,

		"render.title":        d.Render.Title,
		"render.width":        d.Render.Width,
		"render.height":       d.Render.Height,
		"render.vsync":        d.Render.VSync,
		"render.shader_dir":   d.Render.ShaderDir,
		"render.hot_reload":   d.Render.HotReload,
		"render.headless":     d.Render.Headless,
		"render.headless_fps": d.Render.HeadlessFPS,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.addr":    d.Metrics.Addr,
		"metrics.runtime": d.Metrics.Runtime,
	}
}
