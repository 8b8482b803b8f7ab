// Package metrics exposes Prometheus metrics for the capture pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recognition outcomes used as label values.
const (
	OutcomeText               = "text"
	OutcomeNoSpeech           = "no_speech"
	OutcomeUnrecognized       = "unrecognized"
	OutcomeBackendUnavailable = "backend_unavailable"
	OutcomeError              = "error"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	DeviceOpens        *prometheus.CounterVec
	NegotiatedRate     prometheus.Gauge
	UtterancesCaptured prometheus.Counter
	UtteranceDuration  prometheus.Histogram
	Recoveries         *prometheus.CounterVec
	CaptureState       *prometheus.GaugeVec
	StateTransitions   *prometheus.CounterVec

	// Dispatch metrics
	InflightWorkers     prometheus.Gauge
	Recognitions        *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram
	BackendOnline       prometheus.Gauge

	// Meter metrics
	MeterFrames prometheus.Counter
	MeterErrors prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DeviceOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicewatch_device_opens_total",
			Help: "Device open attempts by stream and result",
		}, []string{"stream", "result"}),
		NegotiatedRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicewatch_capture_sample_rate_hz",
			Help: "Sample rate the capture stream negotiated",
		}),
		UtterancesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewatch_utterances_captured_total",
			Help: "Utterances detached and handed to dispatch",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicewatch_utterance_duration_seconds",
			Help:    "Duration of captured utterances",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 12),
		}),
		Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicewatch_recoveries_total",
			Help: "Capture recoveries by failure kind",
		}, []string{"kind"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicewatch_capture_state_transitions_total",
			Help: "Capture state entries by state",
		}, []string{"state"}),
		CaptureState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicewatch_capture_state",
			Help: "1 for the current capture state, 0 otherwise",
		}, []string{"state"}),

		InflightWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicewatch_dispatch_inflight",
			Help: "Dispatch workers currently running",
		}),
		Recognitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicewatch_recognitions_total",
			Help: "Recognition results by outcome",
		}, []string{"outcome"}),
		RecognitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicewatch_recognition_duration_seconds",
			Help:    "Backend round-trip time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~13s
		}),
		BackendOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicewatch_backend_online",
			Help: "1 when the last recognition reached the backend",
		}),

		MeterFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewatch_meter_frames_total",
			Help: "Frames read by the level meter",
		}),
		MeterErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicewatch_meter_errors_total",
			Help: "Level meter stream failures",
		}),
	}
}

// RegisterLevel exports the display level read through fn.
func (m *Metrics) RegisterLevel(fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "voicewatch_input_level",
		Help: "Smoothed input level in [0,1]",
	}, fn))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) DeviceOpened(stream string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.DeviceOpens.WithLabelValues(stream, result).Inc()
}

func (m *Metrics) RateNegotiated(rate int) {
	if m == nil {
		return
	}
	m.NegotiatedRate.Set(float64(rate))
}

func (m *Metrics) UtteranceCaptured(seconds float64) {
	if m == nil {
		return
	}
	m.UtterancesCaptured.Inc()
	m.UtteranceDuration.Observe(seconds)
}

func (m *Metrics) Recovery(kind string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(kind).Inc()
}

// StateChanged marks state as the only active capture state and counts the
// entry.
func (m *Metrics) StateChanged(state string, all []string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.CaptureState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.InflightWorkers.Inc()
}

func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.InflightWorkers.Dec()
}

func (m *Metrics) Recognized(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Recognitions.WithLabelValues(outcome).Inc()
	m.RecognitionDuration.Observe(seconds)
}

func (m *Metrics) Online(online bool) {
	if m == nil {
		return
	}
	if online {
		m.BackendOnline.Set(1)
	} else {
		m.BackendOnline.Set(0)
	}
}

func (m *Metrics) MeterFrame() {
	if m == nil {
		return
	}
	m.MeterFrames.Inc()
}

func (m *Metrics) MeterError() {
	if m == nil {
		return
	}
	m.MeterErrors.Inc()
}
