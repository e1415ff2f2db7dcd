package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records swap engine activity as seen at the RPC boundary.
type EngineMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Metrics returns the lazily-initialised engine metrics registry.
func Metrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swaplock",
				Subsystem: "engine",
				Name:      "requests_total",
				Help:      "Total engine operations segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swaplock",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total engine operation failures segmented by method and error kind.",
			}, []string{"method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swaplock",
				Subsystem: "engine",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(engineRegistry.requests, engineRegistry.errors, engineRegistry.latency)
	})
	return engineRegistry
}

// ObserveRequest records one completed operation.
func (m *EngineMetrics) ObserveRequest(method, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(took.Seconds())
}

// ObserveError records a categorised failure.
func (m *EngineMetrics) ObserveError(method, kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, kind).Inc()
}
