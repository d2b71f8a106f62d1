package config

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"feedstate/pkg/tier"
)

// StateConfig selects and configures the ephemeral state tier.
type StateConfig struct {
	Driver        string
	MemoryEnabled bool
	MemoryMaxKeys int
	FileDir       string
	ProbeTimeout  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadStateConfig loads tier selection settings from environment variables.
//
// Environment variables:
//   - STATE_DRIVER: auto, memory, redis or file (default: auto)
//   - STATE_MEMORY_ENABLED: allow the process-local tier (default: true)
//   - STATE_MEMORY_MAX_KEYS: process-local entry bound (default: 100000)
//   - STATE_FILE_DIR: file tier directory (default: ./cache/state)
//   - STATE_PROBE_TIMEOUT: liveness probe timeout, 100ms..10s (default: 1s)
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: networked tier (default: unset)
func LoadStateConfig() StateConfig {
	cfg := StateConfig{
		Driver:        GetEnvString("STATE_DRIVER", tier.DriverAuto),
		MemoryEnabled: GetEnvBool("STATE_MEMORY_ENABLED", true),
		MemoryMaxKeys: GetEnvInt("STATE_MEMORY_MAX_KEYS", tier.DefaultMemoryConfig().MaxKeys),
		FileDir:       GetEnvString("STATE_FILE_DIR", "./cache/state"),
		ProbeTimeout:  GetEnvDuration("STATE_PROBE_TIMEOUT", time.Second),
		RedisAddr:     GetEnvString("REDIS_ADDR", ""),
		RedisPassword: GetEnvString("REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),
	}

	if driver, err := tier.ParseDriver(cfg.Driver); err != nil {
		warnDefault("STATE_DRIVER", cfg.Driver, tier.DriverAuto, err)
		cfg.Driver = tier.DriverAuto
	} else {
		cfg.Driver = driver
	}

	cfg.ProbeTimeout = durationOrDefault("STATE_PROBE_TIMEOUT", cfg.ProbeTimeout, time.Second,
		func(d time.Duration) error { return ValidateDurationRange(d, 100*time.Millisecond, 10*time.Second) })

	if cfg.MemoryMaxKeys <= 0 {
		slog.Warn("invalid STATE_MEMORY_MAX_KEYS, using default",
			slog.Int("value", cfg.MemoryMaxKeys))
		cfg.MemoryMaxKeys = tier.DefaultMemoryConfig().MaxKeys
	}
	return cfg
}

// SelectorConfig converts the settings into a tier.SelectorConfig.
// The caller adds Breaker, OnSelect and Logger.
func (c StateConfig) SelectorConfig() tier.SelectorConfig {
	sc := tier.SelectorConfig{
		Driver:        c.Driver,
		MemoryEnabled: c.MemoryEnabled,
		Memory:        tier.MemoryConfig{MaxKeys: c.MemoryMaxKeys},
		File:          tier.FileConfig{Dir: c.FileDir},
		ProbeTimeout:  c.ProbeTimeout,
	}
	if c.RedisAddr != "" {
		sc.Redis = &redis.Options{
			Addr:        c.RedisAddr,
			Password:    c.RedisPassword,
			DB:          c.RedisDB,
			DialTimeout: c.ProbeTimeout,
		}
	}
	return sc
}
