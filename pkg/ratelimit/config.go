package ratelimit

import (
	"fmt"
	"strings"
)

// RateLimitConfig contains the configuration for rate limiting.
type RateLimitConfig struct {
	// Enabled turns the HTTP guard on. Limiter calls still count when disabled.
	Enabled bool

	// KeyPrefix namespaces counter keys in the storage tier.
	KeyPrefix string

	// RulesFile is an optional YAML file overriding DefaultRules.
	RulesFile string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:   true,
		KeyPrefix: DefaultKeyPrefix,
	}
}

// Validate checks if the RateLimitConfig is valid.
func (c *RateLimitConfig) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("KeyPrefix must not be empty")
	}
	if strings.ContainsAny(c.KeyPrefix, " \t\n") {
		return fmt.Errorf("KeyPrefix must not contain whitespace, got %q", c.KeyPrefix)
	}
	return nil
}
