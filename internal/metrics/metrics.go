// Package metrics exposes pipeline measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/cortexface/internal/applier"
	"github.com/normanking/cortexface/internal/audio"
	"github.com/normanking/cortexface/internal/tracking"
)

const namespace = "cortexface"

// Metrics holds one registry per pipeline. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FPS           prometheus.Gauge
	Frames        *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	SolveFailures prometheus.Counter
	MappingMisses prometheus.Counter
	ChannelWrites prometheus.Counter
	HeadPosed     prometheus.Gauge
	AudioVolume   prometheus.Gauge
	TrackingState prometheus.Gauge
	SensorErrors  *prometheus.CounterVec
}

// New creates and registers every collector. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_fps",
			Help:      "Instantaneous render frame rate",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_frames_total",
			Help:      "Camera frames by outcome: forwarded or dropped by the decimator, or camera_dropped before it",
		}, []string{"result"}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracking_solve_duration_seconds",
			Help:      "Detector plus solver time per forwarded frame",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		SolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_solve_failures_total",
			Help:      "Solver calls that errored or panicked",
		}),
		MappingMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applier_mapping_misses_total",
			Help:      "Sample channel names with no mapping entry",
		}),
		ChannelWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applier_channel_writes_total",
			Help:      "Expression weights written to the rig",
		}),
		HeadPosed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "applier_head_posed",
			Help:      "1 when the last tick wrote a head rotation, else 0",
		}),
		AudioVolume: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_volume",
			Help:      "Latest compressed audio volume",
		}),
		TrackingState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_state",
			Help:      "Tracking state (0 uninitialized, 1 inactive, 2 active)",
		}),
		SensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_unavailable_total",
			Help:      "Producers that failed to start because their stream was unavailable",
		}, []string{"sensor"}),
	}

	m.registry.MustRegister(
		m.FPS,
		m.Frames,
		m.SolveDuration,
		m.SolveFailures,
		m.MappingMisses,
		m.ChannelWrites,
		m.HeadPosed,
		m.AudioVolume,
		m.TrackingState,
		m.SensorErrors,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFPS matches loop.FPSObserver.
func (m *Metrics) ObserveFPS(fps float64) {
	if m == nil {
		return
	}
	m.FPS.Set(fps)
}

// FrameDecimated implements tracking.Recorder.
func (m *Metrics) FrameDecimated(forwarded bool) {
	if m == nil {
		return
	}
	if forwarded {
		m.Frames.WithLabelValues("forwarded").Inc()
		return
	}
	m.Frames.WithLabelValues("dropped").Inc()
}

// SolveObserved implements tracking.Recorder.
func (m *Metrics) SolveObserved(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SolveDuration.Observe(d.Seconds())
	if err != nil {
		m.SolveFailures.Inc()
	}
}

// EnvelopeObserved implements audio.Recorder.
func (m *Metrics) EnvelopeObserved(s audio.EnvelopeSample) {
	if m == nil {
		return
	}
	m.AudioVolume.Set(float64(s.Volume))
}

// CameraFrameDropped implements vision.DropRecorder. Frames the camera
// discarded never reach the decimator.
func (m *Metrics) CameraFrameDropped() {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues("camera_dropped").Inc()
}

// ObserveApply records one render tick's applier report.
func (m *Metrics) ObserveApply(r applier.Report) {
	if m == nil {
		return
	}
	m.ChannelWrites.Add(float64(r.Written))
	m.MappingMisses.Add(float64(r.Misses))
	if r.HeadPosed {
		m.HeadPosed.Set(1)
	} else {
		m.HeadPosed.Set(0)
	}
}

func (m *Metrics) ObserveTrackingState(s tracking.State) {
	if m == nil {
		return
	}
	m.TrackingState.Set(float64(s))
}

func (m *Metrics) SensorUnavailable(sensor string) {
	if m == nil {
		return
	}
	m.SensorErrors.WithLabelValues(sensor).Inc()
}

var (
	_ tracking.Recorder = (*Metrics)(nil)
	_ audio.Recorder    = (*Metrics)(nil)
)
