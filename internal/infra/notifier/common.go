package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error types returned by the push gateway client.

// RateLimitError represents a 429 rate limit error from the push gateway.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string // Optional custom message
}

// RetryDelay reports the gateway's requested wait to the retry loop.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

// ClientError represents a 4xx client error from the push gateway.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ServerError represents a 5xx server error from the push gateway.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// isRetryableError reports whether a delivery attempt is worth repeating:
// 5xx responses, 429s and transport failures are; other 4xx are not.
func isRetryableError(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// truncate shortens text to maxLength bytes, ending with suffix when cut.
func truncate(text string, maxLength int, suffix string) string {
	if len(text) <= maxLength {
		return text
	}
	truncateAt := maxLength - len(suffix)
	if truncateAt < 0 {
		truncateAt = 0
	}
	return text[:truncateAt] + suffix
}
