package ratelimit

import "time"

// NoOpMetrics implements RateLimitMetrics and records nothing.
//
// Used in tests and when metrics are disabled.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new NoOpMetrics instance.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// RecordAllowed is a no-op implementation.
func (m *NoOpMetrics) RecordAllowed(action string) {}

// RecordDenied is a no-op implementation.
func (m *NoOpMetrics) RecordDenied(action string) {}

// RecordFailOpen is a no-op implementation.
func (m *NoOpMetrics) RecordFailOpen(action string) {}

// RecordCheckDuration is a no-op implementation.
func (m *NoOpMetrics) RecordCheckDuration(tierKind string, duration time.Duration) {}
