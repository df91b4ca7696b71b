package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatcher's instrumentation on a private registry so
// tests can assert on counters without global state.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inflight      prometheus.Gauge
	auditFailures prometheus.Counter
}

// NewMetrics builds the metric set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "opgate",
			Name:      "requests_total",
			Help:      "Requests dispatched, by operation and disposition.",
		}, []string{"operation", "status"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opgate",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request handling time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		inflight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "opgate",
			Name:      "requests_inflight",
			Help:      "Requests currently inside the pipeline.",
		}),
		auditFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "opgate",
			Name:      "audit_write_failures_total",
			Help:      "Audit records that could not be written.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observe(operation, status string, seconds float64) {
	m.requests.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}
