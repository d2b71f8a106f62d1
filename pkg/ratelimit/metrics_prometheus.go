package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements RateLimitMetrics using Prometheus.
//
// All metrics use a custom registry for better testability and isolation.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// checksTotal counts limiter calls.
	// Labels:
	//   - action: counter partition, e.g. "create_post"
	//   - result: "allowed", "denied" or "fail_open"
	checksTotal *prometheus.CounterVec

	// checkDuration tracks storage round trips per tier.
	// Labels:
	//   - tier: "memory", "redis" or "file"
	checkDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with a custom registry.
//
// The registry can be passed to promhttp.HandlerFor() or merged into a
// prometheus.Gatherers to expose metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_rate_limit_checks_total",
			Help: "Total rate limit checks by action and result",
		},
		[]string{"action", "result"},
	)

	// File-tier checks include an flock round trip, so the buckets reach
	// further than an in-memory limiter would need.
	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedstate_rate_limit_check_duration_seconds",
			Help:    "Duration of rate limit storage operations by tier",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"tier"},
	)

	registry.MustRegister(checksTotal, checkDuration)

	return &PrometheusMetrics{
		registry:      registry,
		checksTotal:   checksTotal,
		checkDuration: checkDuration,
	}
}

// Registry returns the Prometheus registry containing all rate limit metrics.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAllowed records an admitted call.
func (m *PrometheusMetrics) RecordAllowed(action string) {
	m.checksTotal.WithLabelValues(action, "allowed").Inc()
}

// RecordDenied records a rejected call.
func (m *PrometheusMetrics) RecordDenied(action string) {
	m.checksTotal.WithLabelValues(action, "denied").Inc()
}

// RecordFailOpen records a call admitted because storage failed.
//
// A sustained non-zero rate means limits are not being enforced.
func (m *PrometheusMetrics) RecordFailOpen(action string) {
	m.checksTotal.WithLabelValues(action, "fail_open").Inc()
}

// RecordCheckDuration records the duration of one storage round trip.
func (m *PrometheusMetrics) RecordCheckDuration(tierKind string, duration time.Duration) {
	m.checkDuration.WithLabelValues(tierKind).Observe(duration.Seconds())
}
