package entity

import "time"

// CachedCredential is the cached outcome of a successful credential check.
type CachedCredential struct {
	SubjectID string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CachedAt  time.Time `json:"cached_at"`
}

// Stale reports whether the entry is older than ttl at now.
func (c *CachedCredential) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CachedAt) > ttl
}

// Expired reports whether the underlying credential has expired at now.
// A zero ExpiresAt never expires.
func (c *CachedCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Identity is what a credential verifier returns on success.
type Identity struct {
	SubjectID string
	ExpiresAt time.Time
}
