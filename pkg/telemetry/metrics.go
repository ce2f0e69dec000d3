package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled turns collection on. A disabled Metrics is a no-op.
	Enabled bool

	// Namespace prefixes every metric name; defaults to "keel".
	Namespace string
}

// Metrics collects Prometheus metrics about lifecycle activity: phase
// transitions, per-operation component durations, and errors by kind.
type Metrics struct {
	config MetricsConfig

	transitions  *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	errorsByKind *prometheus.CounterVec
	phase        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "keel"
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase transitions by source and target phase.",
		}, []string{"from", "to"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of lifecycle operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Lifecycle errors by classified kind.",
		}, []string{"kind"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Current phase, one-hot by phase name.",
		}, []string{"phase"}),
	}

	m.registry.MustRegister(m.transitions, m.opDuration, m.errorsByKind, m.phase)
	return m
}

// ObserveTransition records a phase transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m.registry == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.phase.WithLabelValues(from).Set(0)
	m.phase.WithLabelValues(to).Set(1)
}

// ObserveOperation records the duration of a lifecycle operation.
func (m *Metrics) ObserveOperation(operation string, elapsed time.Duration) {
	if m.registry == nil {
		return
	}
	m.opDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveError records a classified error.
func (m *Metrics) ObserveError(kind string) {
	if m.registry == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Handler returns an HTTP handler exposing the collected metrics, or nil
// when collection is disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
