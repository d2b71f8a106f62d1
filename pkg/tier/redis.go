package tier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// incrementBelowScript increments KEYS[1] unless it already reached ARGV[1].
// The expiry ARGV[2] (ms) is set only when the counter is created, or when a
// counter somehow lost its TTL, so the window is never extended. A value that
// is not an integer is discarded and the counter starts over.
var incrementBelowScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local current = 0
if raw then
  current = tonumber(raw)
  if current == nil or current ~= math.floor(current) then
    redis.call('DEL', KEYS[1])
    current = 0
  end
end
if current >= tonumber(ARGV[1]) then
  return {current, 0, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if current == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {current, 1, ttl}
`)

// Breaker guards calls to the networked backend.
// *circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Execute(fn func() (interface{}, error)) (interface{}, error)
}

// RedisConfig holds configuration for the networked tier.
type RedisConfig struct {
	// Client is the connected Redis client.
	Client redis.UniversalClient

	// Breaker optionally short-circuits calls while Redis is failing.
	Breaker Breaker
}

// Redis is the networked tier. It relies on Redis for atomicity and expiry
// and never adds its own locking.
type Redis struct {
	client  redis.UniversalClient
	breaker Breaker
}

// NewRedis wraps a Redis client.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("tier: redis client is required")
	}
	return &Redis{client: cfg.Client, breaker: cfg.Breaker}, nil
}

// Kind returns KindRedis.
func (r *Redis) Kind() Kind { return KindRedis }

// Ping checks connectivity within ctx's deadline.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the value stored at key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.guard(func() error {
		v, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		value = v
		return nil
	})
	return value, err
}

// Set stores value with a TTL. Redis reclaims expired keys itself.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.guard(func() error {
		if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
		return nil
	})
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.guard(func() error {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

// IncrementBelow runs the bounded increment script.
func (r *Redis) IncrementBelow(ctx context.Context, key string, bound int64, ttl time.Duration) (IncrementResult, error) {
	var result IncrementResult
	err := r.guard(func() error {
		raw, err := incrementBelowScript.Run(ctx, r.client, []string{key}, bound, ttl.Milliseconds()).Int64Slice()
		if err != nil {
			return fmt.Errorf("redis increment: %w", err)
		}
		if len(raw) != 3 {
			return fmt.Errorf("redis increment: unexpected reply length %d", len(raw))
		}
		result = IncrementResult{
			Count:       raw[0],
			Incremented: raw[1] == 1,
			TTL:         pttl(raw[2]),
		}
		return nil
	})
	return result, err
}

// Counter reads a counter and its TTL in one round trip.
func (r *Redis) Counter(ctx context.Context, key string) (int64, time.Duration, error) {
	var (
		count int64
		ttl   time.Duration
	)
	err := r.guard(func() error {
		pipe := r.client.Pipeline()
		getCmd := pipe.Get(ctx, key)
		ttlCmd := pipe.PTTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis counter: %w", err)
		}
		raw, err := getCmd.Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis counter: %w", err)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// unreadable counter; drop it so the next increment starts fresh
			if derr := r.client.Del(ctx, key).Err(); derr != nil {
				return fmt.Errorf("redis counter: delete corrupt value: %w", derr)
			}
			return ErrNotFound
		}
		count = n
		ttl = ttlCmd.Val()
		if ttl < 0 {
			ttl = 0
		}
		return nil
	})
	return count, ttl, err
}

// Stats reports the database size.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis dbsize: %w", err)
	}
	return Stats{Driver: KindRedis, Entries: int(n)}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// guard runs fn through the breaker when one is configured. ErrNotFound is
// a normal outcome and is not counted as a failure.
func (r *Redis) guard(fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	var notFound bool
	_, err := r.breaker.Execute(func() (interface{}, error) {
		err := fn()
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil, nil
		}
		return nil, err
	})
	if notFound {
		return ErrNotFound
	}
	if isBreakerOpen(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func pttl(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
