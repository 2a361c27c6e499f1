package frontend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics follows the same private-registry shape as internal/backend's
// metrics, so constructing multiple FrontEnds in a process (or in tests)
// never collides on a duplicate Prometheus registration.
type metrics struct {
	registry        *prometheus.Registry
	attempts        *prometheus.CounterVec
	failovers       *prometheus.CounterVec
	backendsInFlight *prometheus.GaugeVec
	workDuration    prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskit_frontend_backend_attempts_total",
			Help: "Total dial+dispatch attempts per backend.",
		}, []string{"backend", "outcome"}),
		failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskit_frontend_failovers_total",
			Help: "Total times a candidate backend was skipped after a connection error.",
		}, []string{"backend"}),
		backendsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskit_frontend_backend_in_flight",
			Help: "Current in-flight count per registered backend.",
		}, []string{"backend"}),
		workDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskit_frontend_work_duration_seconds",
			Help:    "Work() call duration, across all candidate attempts.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
