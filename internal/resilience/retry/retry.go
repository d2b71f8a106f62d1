// Package retry runs an operation again on transient failure, waiting an
// exponentially growing, jittered delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int

	// Base is the wait after the first failure; each later wait is
	// multiplied by Factor and capped at Cap before jitter is added.
	Base   time.Duration
	Cap    time.Duration
	Factor float64

	// Jitter adds up to this fraction of the wait at random.
	Jitter float64

	// Retryable classifies errors. Nil means Transient.
	Retryable func(error) bool

	Logger *slog.Logger
}

// Delayed is implemented by errors that carry a server-requested wait,
// such as a 429 with Retry-After. The wait replaces the backoff delay.
type Delayed interface {
	RetryDelay() time.Duration
}

// DBPolicy retries short connection blips on the queue database.
func DBPolicy() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2, Jitter: 0.1}
}

// PushGatewayPolicy keeps in-call retries low: undelivered notifications
// go back to the queue and are attempted again on a later batch.
func PushGatewayPolicy() Policy {
	return Policy{Attempts: 2, Base: 200 * time.Millisecond, Cap: time.Second, Factor: 2, Jitter: 0.1}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.backoff(attempt)
		var d Delayed
		if errors.As(err, &d) && d.RetryDelay() > 0 {
			wait = d.RetryDelay()
		}
		logger.Debug("retrying after transient error",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", errors.Join(ctx.Err(), err))
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// backoff returns the wait after the given failed attempt (1-based).
func (p Policy) backoff(attempt int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	wait := float64(p.Base)
	for i := 1; i < attempt; i++ {
		wait *= factor
		if p.Cap > 0 && wait >= float64(p.Cap) {
			wait = float64(p.Cap)
			break
		}
	}
	if p.Cap > 0 && wait > float64(p.Cap) {
		wait = float64(p.Cap)
	}
	if j := min(p.Jitter, 1); j > 0 {
		wait += rand.Float64() * wait * j // #nosec G404 -- jitter needs no crypto randomness
	}
	return time.Duration(wait)
}

// Transient reports whether err looks like a passing network condition.
// Context cancellation and deadline errors are never transient.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EPIPE)
}
