package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for rate limit decisions. Each
// instance owns its registry so construction is safe in tests.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	bucketsSwept   prometheus.Counter
	trackedClients prometheus.Gauge
	registry       *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "admission"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of rate limit decisions",
		},
		[]string{"decision"},
	)

	m.bucketsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "buckets_swept_total",
			Help:      "Total number of idle buckets removed by cleanup",
		},
	)

	m.trackedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "tracked_clients",
			Help:      "Number of client buckets currently tracked",
		},
	)

	m.registry.MustRegister(
		m.decisionsTotal,
		m.bucketsSwept,
		m.trackedClients,
	)

	return m
}

// Registry returns the registry holding this instance's metrics, for
// exposing via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecision records an admission decision.
func (m *Metrics) RecordDecision(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.decisionsTotal.WithLabelValues(decision).Inc()
}

// RecordSweep records the outcome of a cleanup sweep.
func (m *Metrics) RecordSweep(removed, remaining int) {
	m.bucketsSwept.Add(float64(removed))
	m.trackedClients.Set(float64(remaining))
}
