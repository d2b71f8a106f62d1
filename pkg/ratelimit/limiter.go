package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"feedstate/pkg/tier"
)

// DefaultKeyPrefix namespaces counter keys inside a shared tier.
const DefaultKeyPrefix = "ratelimit:"

// LimiterConfig holds optional collaborators for a Limiter.
type LimiterConfig struct {
	// KeyPrefix is prepended to the hashed key.
	// Default: "ratelimit:"
	KeyPrefix string

	// Rules maps named actions to their limits for EnforceAction.
	// Default: DefaultRules()
	Rules Rules

	// Clock provides time operations for testing.
	// Default: SystemClock
	Clock Clock

	// Metrics records admitted, denied and fail-open calls.
	// Default: NoOpMetrics
	Metrics RateLimitMetrics

	Logger *slog.Logger
}

// Limiter counts calls per (subject, action) in fixed windows.
//
// The read-check-increment-write sequence runs atomically per key:
//   - tiers with a native counter (Redis) use a bounded atomic increment
//   - tiers with exclusive updates (file, memory) run it under the key's lock
//   - any other tier falls back to an unsynchronized get/compute/set
//
// Storage failures never reject a call; they are logged and the call is admitted.
type Limiter struct {
	source  TierSource
	prefix  string
	rules   Rules
	clock   Clock
	metrics RateLimitMetrics
	logger  *slog.Logger
}

// NewLimiter creates a limiter counting in the tier returned by source.
func NewLimiter(source TierSource, cfg LimiterConfig) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Clock == nil {
		cfg.Clock = &SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewNoOpMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Limiter{
		source:  source,
		prefix:  cfg.KeyPrefix,
		rules:   cfg.Rules,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Key derives the storage key for (subject, action). The subject is hashed so
// raw identifiers never reach storage and key length stays bounded.
func (l *Limiter) Key(subject, action string) string {
	sum := sha256.Sum256([]byte(subject + ":" + action))
	return l.prefix + hex.EncodeToString(sum[:])
}

// Check records a call and reports whether it is admitted.
func (l *Limiter) Check(ctx context.Context, subject, action string, limit int, window time.Duration) bool {
	return l.Decide(ctx, subject, action, limit, window).Allowed
}

// Enforce records a call and returns a *LimitExceededError when it is rejected.
func (l *Limiter) Enforce(ctx context.Context, subject, action string, limit int, window time.Duration) error {
	return l.Decide(ctx, subject, action, limit, window).Err()
}

// EnforceAction enforces the configured rule for action. Actions without a
// rule are admitted and logged.
func (l *Limiter) EnforceAction(ctx context.Context, subject, action string) error {
	rule, ok := l.rules.Lookup(action)
	if !ok {
		l.logger.Warn("no rate limit rule for action, admitting", slog.String("action", action))
		return nil
	}
	return l.Enforce(ctx, subject, action, rule.Limit, rule.Window)
}

// Rule returns the configured rule for action.
func (l *Limiter) Rule(action string) (Rule, bool) {
	return l.rules.Lookup(action)
}

// Decide records a call and returns the full decision.
//
// A new window opens when none exists or the stored one has expired; the
// call is then admitted with count 1. Inside a window, calls are admitted and
// counted while count < limit. Rejected calls leave the window unchanged.
// A limit <= 0 rejects every call without touching storage.
func (l *Limiter) Decide(ctx context.Context, subject, action string, limit int, window time.Duration) *RateLimitDecision {
	now := l.clock.Now()
	key := l.Key(subject, action)

	if limit <= 0 {
		l.metrics.RecordDenied(action)
		return newDeniedDecision(key, action, limit, now.Add(time.Duration(windowSeconds(window))*time.Second), now)
	}

	store := l.source.Select(ctx)
	start := time.Now()

	var (
		decision *RateLimitDecision
		err      error
	)
	switch t := store.(type) {
	case tier.Incrementer:
		decision, err = l.decideNative(ctx, t, key, action, limit, window, now)
	case tier.Updater:
		decision, err = l.decideLocked(ctx, t, key, action, limit, window, now)
	default:
		decision, err = l.decideUnsynchronized(ctx, store, key, action, limit, window, now)
	}
	l.metrics.RecordCheckDuration(store.Kind().String(), time.Since(start))

	if err != nil {
		l.logger.Warn("rate limit storage failed, admitting request",
			slog.String("subject_hash", key[len(l.prefix):]),
			slog.String("action", action),
			slog.String("tier", store.Kind().String()),
			slog.Any("error", err))
		l.metrics.RecordFailOpen(action)
		decision = newAllowedDecision(key, action, limit, limit, now.Add(time.Duration(windowSeconds(window))*time.Second))
		decision.FailOpen = true
	}
	decision.Tier = store.Kind().String()

	if decision.Allowed {
		l.metrics.RecordAllowed(action)
	} else {
		l.metrics.RecordDenied(action)
	}
	return decision
}

func (l *Limiter) decideNative(ctx context.Context, t tier.Incrementer, key, action string, limit int, window time.Duration, now time.Time) (*RateLimitDecision, error) {
	ttl := time.Duration(windowSeconds(window)) * time.Second
	res, err := t.IncrementBelow(ctx, key, int64(limit), ttl)
	if err != nil {
		return nil, err
	}
	resetAt := now.Add(res.TTL)
	if !res.Incremented {
		return newDeniedDecision(key, action, limit, resetAt, now), nil
	}
	return newAllowedDecision(key, action, limit, limit-int(res.Count), resetAt), nil
}

func (l *Limiter) decideLocked(ctx context.Context, t tier.Updater, key, action string, limit int, window time.Duration, now time.Time) (*RateLimitDecision, error) {
	var decision *RateLimitDecision
	err := t.Update(ctx, key, func(current []byte) ([]byte, time.Duration, error) {
		next, admitted := advance(current, limit, window, now)
		if !admitted {
			decision = newDeniedDecision(key, action, limit, next.ResetAt(), now)
			return nil, 0, nil
		}
		decision = newAllowedDecision(key, action, limit, limit-next.Count, next.ResetAt())
		return next.encode(), next.storageTTL(now), nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// decideUnsynchronized is used for tiers without atomic primitives. Two
// concurrent callers may both read the pre-increment window and under-count.
func (l *Limiter) decideUnsynchronized(ctx context.Context, t tier.Tier, key, action string, limit int, window time.Duration, now time.Time) (*RateLimitDecision, error) {
	current, err := t.Get(ctx, key)
	if err != nil && !errors.Is(err, tier.ErrNotFound) {
		return nil, err
	}
	next, admitted := advance(current, limit, window, now)
	if !admitted {
		return newDeniedDecision(key, action, limit, next.ResetAt(), now), nil
	}
	if err := t.Set(ctx, key, next.encode(), next.storageTTL(now)); err != nil {
		return nil, err
	}
	return newAllowedDecision(key, action, limit, limit-next.Count, next.ResetAt()), nil
}

// advance applies one call to the stored window. It returns the window to
// store and whether the call is admitted; on rejection the returned window is
// the unchanged stored one.
func advance(current []byte, limit int, window time.Duration, now time.Time) (RateWindow, bool) {
	w, ok := decodeWindow(current)
	if !ok || w.Expired(now) {
		return NewRateWindow(now, window), true
	}
	if w.Count >= limit {
		return w, false
	}
	w.Count++
	return w, true
}

// RemainingAttempts returns how many calls are left in the current window
// without recording one. It returns limit when no window is active or on
// storage errors.
func (l *Limiter) RemainingAttempts(ctx context.Context, subject, action string, limit int, window time.Duration) int {
	count, _, ok := l.peek(ctx, subject, action)
	if !ok {
		return limit
	}
	if remaining := limit - count; remaining > 0 {
		return remaining
	}
	return 0
}

// TimeToReset returns the whole seconds until the current window ends, or 0
// when no window is active.
func (l *Limiter) TimeToReset(ctx context.Context, subject, action string) int {
	_, secs, ok := l.peek(ctx, subject, action)
	if !ok {
		return 0
	}
	return secs
}

// peek reads the active window's count and seconds left. ok is false when no
// window is active or storage failed.
func (l *Limiter) peek(ctx context.Context, subject, action string) (count, secondsLeft int, ok bool) {
	key := l.Key(subject, action)
	store := l.source.Select(ctx)
	now := l.clock.Now()

	if t, isCounter := store.(tier.Incrementer); isCounter {
		n, ttl, err := t.Counter(ctx, key)
		if err != nil {
			l.logPeekError(key, err)
			return 0, 0, false
		}
		secs := int(ttl / time.Second)
		if ttl%time.Second != 0 {
			secs++
		}
		return int(n), secs, true
	}

	raw, err := store.Get(ctx, key)
	if err != nil {
		l.logPeekError(key, err)
		return 0, 0, false
	}
	w, valid := decodeWindow(raw)
	if !valid {
		_ = store.Delete(ctx, key)
		return 0, 0, false
	}
	if w.Expired(now) {
		return 0, 0, false
	}
	return w.Count, w.SecondsLeft(now), true
}

func (l *Limiter) logPeekError(key string, err error) {
	if errors.Is(err, tier.ErrNotFound) {
		return
	}
	l.logger.Warn("rate limit storage read failed",
		slog.String("subject_hash", key[len(l.prefix):]),
		slog.Any("error", err))
}
