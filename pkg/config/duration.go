package config

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration returns an error unless d > 0.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateDurationRange returns an error unless min <= d <= max.
func ValidateDurationRange(d, min, max time.Duration) error {
	if d < min || d > max {
		return fmt.Errorf("duration must be between %v and %v, got %v", min, max, d)
	}
	return nil
}

// durationOrDefault returns d, or def with a warning when d fails validate.
func durationOrDefault(key string, d, def time.Duration, validate func(time.Duration) error) time.Duration {
	if err := validate(d); err != nil {
		warnDefault(key, d.String(), def.String(), err)
		return def
	}
	return d
}
