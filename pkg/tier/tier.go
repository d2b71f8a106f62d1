// Package tier provides the storage backends that hold short-lived state
// (rate-limit windows, cached credentials) outside the primary database.
//
// Three tiers implement the same Tier interface:
//   - Memory: process-local map with LRU bound, fastest, lost on restart
//   - Redis: networked cache shared across nodes, native atomic increment
//   - File: one file per key on local disk, always available, single node only
//
// A Selector picks the best available tier once per process.
package tier

import (
	"context"
	"errors"
	"time"
)

// Kind identifies a concrete tier.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindFile   Kind = "file"
)

// String returns the driver name.
func (k Kind) String() string {
	return string(k)
}

var (
	// ErrNotFound is returned by Get when the key is absent or its entry has expired.
	ErrNotFound = errors.New("tier: key not found")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("tier: backend unavailable")
)

// Tier is a key/value store with per-entry expiry.
//
// Implementations must treat expired entries exactly like absent ones and
// must be safe for concurrent use.
type Tier interface {
	// Kind reports which backend this is.
	Kind() Kind

	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl <= 0 stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the tier.
	Close() error
}

// IncrementResult is the outcome of a bounded atomic increment.
type IncrementResult struct {
	// Count is the counter value after the call.
	Count int64

	// Incremented is false when the counter was already at the bound and was left unchanged.
	Incremented bool

	// TTL is the remaining lifetime of the counter.
	TTL time.Duration
}

// Incrementer is implemented by tiers with a native atomic counter primitive.
type Incrementer interface {
	// IncrementBelow increments the counter at key only if its current value is
	// below bound. The ttl is applied when the counter is created, so later
	// increments do not extend the window.
	IncrementBelow(ctx context.Context, key string, bound int64, ttl time.Duration) (IncrementResult, error)

	// Counter returns the current counter value and its remaining TTL.
	// A missing counter returns ErrNotFound.
	Counter(ctx context.Context, key string) (int64, time.Duration, error)
}

// UpdateFunc computes the next value of an entry from its current one.
// current is nil when the entry is absent or expired. Returning a nil next
// leaves the stored entry untouched.
type UpdateFunc func(current []byte) (next []byte, ttl time.Duration, err error)

// Updater is implemented by tiers that can run a read-modify-write sequence
// exclusively for one key.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Sweeper is implemented by tiers whose expired entries are not reclaimed automatically.
type Sweeper interface {
	// Sweep removes expired or unreadable entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Stats describes the current content of a tier.
type Stats struct {
	Driver  Kind `json:"driver"`
	Entries int  `json:"entries"`
}

// StatsReporter is implemented by tiers that can count their entries.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
