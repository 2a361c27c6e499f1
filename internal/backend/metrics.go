package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors internal/engine's engineMetrics pattern: a small
// struct of promauto-registered collectors. Each Backend owns its own
// prometheus.Registry (rather than registering into the global default
// registry) so that constructing more than one Backend in the same
// process -- as the test suite does -- never collides on a duplicate
// registration.
type metrics struct {
	registry       *prometheus.Registry
	inFlight       prometheus.Gauge
	tasksStarted   prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	taskDuration   prometheus.Histogram
}

func newMetrics(addr string) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"backend": addr}

	return &metrics{
		registry: reg,
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "taskit_backend_in_flight",
			Help:        "Number of task handlers currently executing.",
			ConstLabels: labels,
		}),
		tasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "taskit_backend_tasks_started_total",
			Help:        "Total tasks dispatched to a handler.",
			ConstLabels: labels,
		}),
		tasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "taskit_backend_tasks_completed_total",
			Help:        "Total tasks that returned a success envelope.",
			ConstLabels: labels,
		}),
		tasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "taskit_backend_tasks_failed_total",
			Help:        "Total tasks that returned an error envelope.",
			ConstLabels: labels,
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "taskit_backend_task_duration_seconds",
			Help:        "Task execution duration.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the backend's private Prometheus registry, e.g. for
// mounting on an admin HTTP server's /metrics route.
func (b *Backend) Registry() *prometheus.Registry {
	return b.metrics.registry
}
