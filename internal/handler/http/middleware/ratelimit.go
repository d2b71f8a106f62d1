package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"feedstate/internal/handler/http/respond"
	"feedstate/pkg/ratelimit"
)

// Decider records a call against a fixed-window counter.
// *ratelimit.Limiter satisfies it.
type Decider interface {
	Decide(ctx context.Context, subject, action string, limit int, window time.Duration) *ratelimit.RateLimitDecision
	Rule(action string) (ratelimit.Rule, bool)
}

// RateLimit guards a route with the named action's rule. The counter subject
// is the authenticated subject when RequireAuth ran first, the client IP
// otherwise. Actions without a rule are admitted.
func RateLimit(limiter Decider, action string, ip *ClientIP, logger *slog.Logger) func(http.Handler) http.Handler {
	if ip == nil {
		ip = NewClientIP(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	rule, ok := limiter.Rule(action)
	if !ok {
		logger.Warn("no rate limit rule for action, route is unguarded", slog.String("action", action))
	}
	return func(next http.Handler) http.Handler {
		if !ok {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Decide(r.Context(), subjectOf(r, ip), action, rule.Limit, rule.Window)
			SetRateLimitHeaders(w, d)
			if err := d.Err(); err != nil {
				le, _ := ratelimit.AsLimitExceeded(err)
				WriteLimitExceeded(w, le)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func subjectOf(r *http.Request, ip *ClientIP) string {
	if s := SubjectFromContext(r.Context()); s != "" {
		return UserSubject(s)
	}
	return "ip:" + ip.Resolve(r)
}

// UserSubject is the counter subject RateLimit uses for an authenticated
// subject id.
func UserSubject(subjectID string) string {
	return "user:" + subjectID
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(w http.ResponseWriter, d *ratelimit.RateLimitDecision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAtUnix(), 10))
}

// limitExceededBody is the 429 response body.
type limitExceededBody struct {
	Error      string `json:"error"`
	Remaining  int    `json:"remaining"`
	RetryAfter int    `json:"retry_after"`
}

// WriteLimitExceeded answers 429 with Retry-After for a rejection returned
// by Limiter.Enforce.
func WriteLimitExceeded(w http.ResponseWriter, err *ratelimit.LimitExceededError) {
	w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfterSeconds))
	respond.JSON(w, http.StatusTooManyRequests, limitExceededBody{
		Error:      "rate limit exceeded",
		Remaining:  0,
		RetryAfter: err.RetryAfterSeconds,
	})
}
