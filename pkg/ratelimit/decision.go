package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitDecision represents the result of a rate limit check.
type RateLimitDecision struct {
	// Key is the hashed storage key, never the raw subject.
	Key string

	// Action is the counter partition, e.g. "create_post".
	Action string

	// Allowed indicates whether the call was admitted.
	Allowed bool

	// Limit is the maximum number of calls allowed in the window.
	Limit int

	// Remaining is the number of calls left in the current window.
	Remaining int

	// ResetAt is when the current window ends.
	ResetAt time.Time

	// RetryAfter is how long a rejected caller should wait. Zero when allowed.
	RetryAfter time.Duration

	// Tier names the storage driver that answered, e.g. "redis".
	Tier string

	// FailOpen is set when the call was admitted because storage failed.
	FailOpen bool
}

// String returns a human-readable representation of the decision.
func (d *RateLimitDecision) String() string {
	if d.Allowed {
		return fmt.Sprintf(
			"RateLimitDecision{Allowed: true, Action: %s, Tier: %s, Remaining: %d/%d, ResetAt: %s}",
			d.Action, d.Tier, d.Remaining, d.Limit, d.ResetAt.Format(time.RFC3339),
		)
	}
	return fmt.Sprintf(
		"RateLimitDecision{Allowed: false, Action: %s, Tier: %s, Limit: %d, RetryAfter: %s}",
		d.Action, d.Tier, d.Limit, d.RetryAfter,
	)
}

// ResetAtUnix returns the reset time as a Unix timestamp.
//
// This is useful for HTTP headers like X-RateLimit-Reset.
func (d *RateLimitDecision) ResetAtUnix() int64 {
	return d.ResetAt.Unix()
}

// RetryAfterSeconds returns the retry delay in whole seconds, rounded up.
//
// This is useful for HTTP headers like Retry-After.
func (d *RateLimitDecision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// Err converts a rejection into a *LimitExceededError, or returns nil.
func (d *RateLimitDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitExceededError{
		Action:            d.Action,
		Limit:             d.Limit,
		Remaining:         0,
		RetryAfterSeconds: d.RetryAfterSeconds(),
	}
}

func newAllowedDecision(key, action string, limit, remaining int, resetAt time.Time) *RateLimitDecision {
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitDecision{
		Key:       key,
		Action:    action,
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// newDeniedDecision builds a rejection. RetryAfter is at least one second so
// a caller rejected in the last second of a window does not retry instantly.
func newDeniedDecision(key, action string, limit int, resetAt, now time.Time) *RateLimitDecision {
	retryAfter := resetAt.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &RateLimitDecision{
		Key:        key,
		Action:     action,
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}
