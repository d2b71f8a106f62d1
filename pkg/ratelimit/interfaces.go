// Package ratelimit implements fixed-window request counting on top of a
// storage tier, with fail-open behavior when the tier is unavailable.
package ratelimit

import (
	"context"
	"time"

	"feedstate/pkg/tier"
)

// TierSource resolves the storage tier to count in.
//
// *tier.Selector satisfies this interface; the tier is resolved on the first
// check, not when the limiter is built.
type TierSource interface {
	Select(ctx context.Context) tier.Tier
}

// StaticTier is a TierSource that always returns the same tier.
type StaticTier struct {
	Tier tier.Tier
}

// Select returns the wrapped tier.
func (s StaticTier) Select(context.Context) tier.Tier {
	return s.Tier
}

// RateLimitMetrics defines the interface for recording limiter metrics.
//
// Implementations must be safe for concurrent use.
type RateLimitMetrics interface {
	// RecordAllowed records an admitted call for action.
	RecordAllowed(action string)

	// RecordDenied records a rejected call for action.
	RecordDenied(action string)

	// RecordFailOpen records a call admitted because the storage tier failed.
	RecordFailOpen(action string)

	// RecordCheckDuration records how long a check took on the given tier.
	RecordCheckDuration(tierKind string, duration time.Duration)
}

// Clock provides an abstraction for time operations to enable testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
