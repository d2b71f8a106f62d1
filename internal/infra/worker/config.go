package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedstate/internal/pkg/config"
)

// WorkerConfig controls how the worker drains the notification queue.
type WorkerConfig struct {
	// BatchSize is the maximum number of items claimed per Process call.
	// Range: 1-1000. Default: 50
	BatchSize int

	// IdleSleep is how long daemon mode waits when the queue has nothing to do.
	// Range: 100ms-10m. Default: 5s
	IdleSleep time.Duration

	// CleanupSchedule is the cron expression for queue cleanup and tier sweeps.
	// Five-field expressions and descriptors are accepted. Default: "@hourly"
	CleanupSchedule string

	// CleanupDays is the age after which processed items are deleted.
	// Range: 1-365. Default: 7
	CleanupDays int

	// Timezone is the IANA zone for CleanupSchedule. Default: "UTC"
	Timezone string

	// HealthPort serves /health and /health/ready. Default: 9091
	HealthPort int

	// MetricsPort serves /metrics. Default: 9090
	MetricsPort int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:       50,
		IdleSleep:       5 * time.Second,
		CleanupSchedule: "@hourly",
		CleanupDays:     7,
		Timezone:        "UTC",
		HealthPort:      9091,
		MetricsPort:     9090,
	}
}

func validBatchSize(v int) error   { return config.ValidateIntRange(v, 1, 1000) }
func validCleanupDays(v int) error { return config.ValidateIntRange(v, 1, 365) }
func validPort(v int) error        { return config.ValidateIntRange(v, 1024, 65535) }
func validIdleSleep(d time.Duration) error {
	return config.ValidateDuration(d, 100*time.Millisecond, 10*time.Minute)
}

// Validate reports every invalid field.
func (c *WorkerConfig) Validate() error {
	var errs []error
	if err := validBatchSize(c.BatchSize); err != nil {
		errs = append(errs, fmt.Errorf("batch size: %w", err))
	}
	if err := validIdleSleep(c.IdleSleep); err != nil {
		errs = append(errs, fmt.Errorf("idle sleep: %w", err))
	}
	if err := config.ValidateCronSchedule(c.CleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cleanup schedule: %w", err))
	}
	if err := validCleanupDays(c.CleanupDays); err != nil {
		errs = append(errs, fmt.Errorf("cleanup days: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := validPort(c.HealthPort); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := validPort(c.MetricsPort); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}
	return errors.Join(errs...)
}

// LoadConfigFromEnv reads the QUEUE_* and port variables. Invalid values fall
// back to their defaults with a warning; the returned config is always valid.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) *WorkerConfig {
	cfg := DefaultConfig()
	fallback := false

	note := func(field, warning string, applied bool) {
		if !applied {
			return
		}
		fallback = true
		metrics.RecordFallback(field)
		logger.Warn("configuration fallback applied",
			slog.String("field", field),
			slog.String("warning", warning))
	}

	batch := config.LoadInt("QUEUE_BATCH_SIZE", cfg.BatchSize, validBatchSize)
	cfg.BatchSize = batch.Value
	note("batch_size", batch.Warning, batch.FallbackApplied)

	sleep := config.LoadDuration("QUEUE_IDLE_SLEEP", cfg.IdleSleep, validIdleSleep)
	cfg.IdleSleep = sleep.Value
	note("idle_sleep", sleep.Warning, sleep.FallbackApplied)

	schedule := config.LoadString("QUEUE_CLEANUP_SCHEDULE", cfg.CleanupSchedule, config.ValidateCronSchedule)
	cfg.CleanupSchedule = schedule.Value
	note("cleanup_schedule", schedule.Warning, schedule.FallbackApplied)

	days := config.LoadInt("QUEUE_CLEANUP_DAYS", cfg.CleanupDays, validCleanupDays)
	cfg.CleanupDays = days.Value
	note("cleanup_days", days.Warning, days.FallbackApplied)

	tz := config.LoadString("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = tz.Value
	note("timezone", tz.Warning, tz.FallbackApplied)

	health := config.LoadInt("WORKER_HEALTH_PORT", cfg.HealthPort, validPort)
	cfg.HealthPort = health.Value
	note("health_port", health.Warning, health.FallbackApplied)

	metricsPort := config.LoadInt("METRICS_PORT", cfg.MetricsPort, validPort)
	cfg.MetricsPort = metricsPort.Value
	note("metrics_port", metricsPort.Warning, metricsPort.FallbackApplied)

	metrics.RecordLoad(fallback)
	return &cfg
}
