package config

import (
	"log/slog"

	"feedstate/pkg/ratelimit"
)

// LoadRateLimitConfig loads rate limiting configuration from environment variables.
//
// Invalid values are logged and replaced with defaults; the returned error is
// always nil so a bad setting never prevents startup.
//
// Environment variables:
//   - RATELIMIT_ENABLED: Enable the HTTP guard (default: true)
//   - RATELIMIT_KEY_PREFIX: Counter key namespace (default: "ratelimit:")
//   - RATELIMIT_RULES_FILE: YAML file overriding per-action limits (default: none)
func LoadRateLimitConfig() (*ratelimit.RateLimitConfig, error) {
	def := ratelimit.DefaultConfig()
	cfg := &ratelimit.RateLimitConfig{
		Enabled:   GetEnvBool("RATELIMIT_ENABLED", def.Enabled),
		KeyPrefix: GetEnvString("RATELIMIT_KEY_PREFIX", def.KeyPrefix),
		RulesFile: GetEnvString("RATELIMIT_RULES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		warnDefault("RATELIMIT_KEY_PREFIX", cfg.KeyPrefix, def.KeyPrefix, err)
		cfg.KeyPrefix = def.KeyPrefix
	}

	slog.Info("rate limit configuration loaded",
		slog.Bool("enabled", cfg.Enabled),
		slog.String("rules_file", cfg.RulesFile))
	return cfg, nil
}

func warnDefault(key, value, def string, err error) {
	slog.Warn("invalid configuration value, using default",
		slog.String("key", key),
		slog.String("value", value),
		slog.String("default", def),
		slog.String("error", err.Error()))
}
