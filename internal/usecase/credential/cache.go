// Package credential caches credential checks in the shared storage tier and
// wraps the authoritative verifier with a cache-aside Authenticator.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"feedstate/internal/domain/entity"
	"feedstate/pkg/tier"
)

const (
	// DefaultKeyPrefix namespaces cache keys inside a shared tier.
	DefaultKeyPrefix = "token:"

	// DefaultTTL bounds how long a validation result is trusted.
	DefaultTTL = 5 * time.Minute
)

// TierSource resolves the storage tier. *tier.Selector satisfies it.
type TierSource interface {
	Select(ctx context.Context) tier.Tier
}

// CacheConfig configures a ValidationCache.
type CacheConfig struct {
	// TTL bounds staleness; it is also the tier-level TTL of each entry.
	// Default: 5m
	TTL time.Duration

	// KeyPrefix is prepended to the hashed credential. Default: "token:"
	KeyPrefix string

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// ValidationCache memoizes successful credential checks keyed by a hash of
// the credential. It never verifies anything itself.
//
// Storage errors never reach the caller: Get reports a miss, Set and
// Invalidate log and return.
type ValidationCache struct {
	source TierSource
	ttl    time.Duration
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewValidationCache creates a cache stored in the tier returned by source.
func NewValidationCache(source TierSource, cfg CacheConfig) *ValidationCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ValidationCache{
		source: source,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// TTL returns the configured cache TTL.
func (c *ValidationCache) TTL() time.Duration { return c.ttl }

// Key derives the storage key for credential.
func (c *ValidationCache) Key(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached validation for credential. Absent, stale and
// unreadable entries are misses; unreadable ones are deleted.
func (c *ValidationCache) Get(ctx context.Context, credential string) (*entity.CachedCredential, bool) {
	key := c.Key(credential)
	store := c.source.Select(ctx)

	raw, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, tier.ErrNotFound) {
			recordLookup(lookupMiss)
			return nil, false
		}
		c.logger.Warn("credential cache read failed, treating as miss",
			slog.String("key_hash", key[len(c.prefix):]),
			slog.String("tier", store.Kind().String()),
			slog.Any("error", err))
		recordLookup(lookupError)
		return nil, false
	}

	var cached entity.CachedCredential
	if err := json.Unmarshal(raw, &cached); err != nil || cached.SubjectID == "" {
		c.logger.Warn("removing corrupt credential cache entry",
			slog.String("key_hash", key[len(c.prefix):]))
		_ = store.Delete(ctx, key)
		recordLookup(lookupError)
		return nil, false
	}

	if cached.Stale(c.now(), c.ttl) {
		recordLookup(lookupStale)
		return nil, false
	}
	recordLookup(lookupHit)
	return &cached, true
}

// Set records a successful validation of credential at the current time.
func (c *ValidationCache) Set(ctx context.Context, credential, subjectID string, credentialExpiry time.Time) {
	key := c.Key(credential)
	store := c.source.Select(ctx)

	raw, err := json.Marshal(entity.CachedCredential{
		SubjectID: subjectID,
		ExpiresAt: credentialExpiry,
		CachedAt:  c.now(),
	})
	if err == nil {
		err = store.Set(ctx, key, raw, c.ttl)
	}
	if err != nil {
		c.logger.Warn("credential cache write failed",
			slog.String("key_hash", key[len(c.prefix):]),
			slog.String("tier", store.Kind().String()),
			slog.Any("error", err))
	}
}

// Invalidate removes credential from the cache. Missing entries are fine.
func (c *ValidationCache) Invalidate(ctx context.Context, credential string) {
	key := c.Key(credential)
	store := c.source.Select(ctx)

	if err := store.Delete(ctx, key); err != nil {
		c.logger.Warn("credential cache invalidation failed",
			slog.String("key_hash", key[len(c.prefix):]),
			slog.String("tier", store.Kind().String()),
			slog.Any("error", err))
	}
}
