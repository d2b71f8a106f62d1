// Package config loads component settings from the environment with a
// fail-open policy: an invalid value is replaced by its default and reported
// as a warning instead of stopping the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadResult is the outcome of loading one variable.
type LoadResult[T any] struct {
	Value T

	// Warning explains why the default was used. Empty unless FallbackApplied.
	Warning string

	FallbackApplied bool
}

func load[T any](key string, def T, parse func(string) (T, error), validate func(T) error) LoadResult[T] {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return LoadResult[T]{Value: def}
	}
	v, err := parse(raw)
	if err == nil && validate != nil {
		err = validate(v)
	}
	if err != nil {
		return LoadResult[T]{
			Value:           def,
			Warning:         fmt.Sprintf("invalid %s=%q: %v, using default %v", key, raw, err, def),
			FallbackApplied: true,
		}
	}
	return LoadResult[T]{Value: v}
}

// LoadString reads key, keeping def when it is unset or fails validate.
func LoadString(key, def string, validate func(string) error) LoadResult[string] {
	return load(key, def, func(s string) (string, error) { return s, nil }, validate)
}

// LoadInt reads a base-10 integer.
func LoadInt(key string, def int, validate func(int) error) LoadResult[int] {
	return load(key, def, strconv.Atoi, validate)
}

// LoadDuration reads a time.ParseDuration string such as "5s" or "1h30m".
func LoadDuration(key string, def time.Duration, validate func(time.Duration) error) LoadResult[time.Duration] {
	return load(key, def, time.ParseDuration, validate)
}

// LoadBool reads any value accepted by strconv.ParseBool.
func LoadBool(key string, def bool) LoadResult[bool] {
	return load(key, def, strconv.ParseBool, nil)
}
