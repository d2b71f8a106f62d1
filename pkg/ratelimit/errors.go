package ratelimit

import (
	"errors"
	"fmt"
)

// ErrLimitExceeded is matched by every *LimitExceededError.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// LimitExceededError is returned by Enforce when a call is rejected.
type LimitExceededError struct {
	Action string
	Limit  int

	// Remaining is always 0 for a rejection.
	Remaining int

	// RetryAfterSeconds is how long the caller should wait before retrying.
	RetryAfterSeconds int
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: limit %d, retry after %ds", e.Action, e.Limit, e.RetryAfterSeconds)
}

// Is makes errors.Is(err, ErrLimitExceeded) hold.
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// AsLimitExceeded extracts a *LimitExceededError from err.
func AsLimitExceeded(err error) (*LimitExceededError, bool) {
	var le *LimitExceededError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
