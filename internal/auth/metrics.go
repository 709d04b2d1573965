package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication. Each instance
// owns its registry so construction is safe in tests.
type Metrics struct {
	authTotal      *prometheus.CounterVec
	authDuration   *prometheus.HistogramVec
	keysConfigured prometheus.Gauge
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

	m.authTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total number of API key authentication attempts",
		},
		[]string{"result"},
	)

	m.authDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "duration_seconds",
			Help:      "API key authentication duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"result"},
	)

	m.keysConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "keys_configured",
			Help:      "Number of API keys currently configured",
		},
	)

	m.registry.MustRegister(
		m.authTotal,
		m.authDuration,
		m.keysConfigured,
	)

	return m
}

// Registry returns the registry holding this instance's metrics, for
// exposing via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAuthentication records an authentication attempt. result is one
// of success, missing, invalid.
func (m *Metrics) RecordAuthentication(result string, duration time.Duration) {
	m.authTotal.WithLabelValues(result).Inc()
	m.authDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// SetKeyCount records the configured key count.
func (m *Metrics) SetKeyCount(count int) {
	m.keysConfigured.Set(float64(count))
}
