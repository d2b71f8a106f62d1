// Package bootstrap builds the components shared by cmd/api and cmd/worker
// from environment configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"feedstate/internal/infra/adapter/persistence/filequeue"
	pgRepo "feedstate/internal/infra/adapter/persistence/postgres"
	"feedstate/internal/infra/db"
	"feedstate/internal/infra/notifier"
	"feedstate/internal/observability/metrics"
	"feedstate/internal/resilience/circuitbreaker"
	"feedstate/internal/usecase/notify"
	"feedstate/pkg/config"
	"feedstate/pkg/tier"
)

// Queue backends accepted by QUEUE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// OpenDatabase connects to DATABASE_URL and applies the schema. It returns
// (nil, nil) when DATABASE_URL is unset and required is false.
func OpenDatabase(ctx context.Context, logger *slog.Logger, required bool) (*sql.DB, error) {
	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"))
	if errors.Is(err, db.ErrNoDSN) && !required {
		logger.Info("DATABASE_URL not set, running without postgres")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// NewSelector builds the state tier selector from STATE_* and REDIS_*
// settings. Redis calls go through a circuit breaker and the chosen tier is
// exported as feedstate_tier_selected.
func NewSelector(logger *slog.Logger) *tier.Selector {
	cfg := config.LoadStateConfig().SelectorConfig()
	cfg.Breaker = circuitbreaker.New(circuitbreaker.RedisConfig())
	cfg.OnSelect = metrics.SetTierSelected
	cfg.Logger = logger
	return tier.NewSelector(cfg)
}

// QueueBackend normalizes QUEUE_BACKEND, defaulting to postgres.
func QueueBackend() string {
	b := strings.ToLower(strings.TrimSpace(config.GetEnvString("QUEUE_BACKEND", BackendPostgres)))
	if b != BackendFile {
		return BackendPostgres
	}
	return b
}

// OpenQueue builds the delivery queue.
//
// With QUEUE_BACKEND=postgres and a database, postgres is primary and the
// file queue under QUEUE_DIR takes pushes postgres rejects. Otherwise the
// file queue is the only backend.
func OpenQueue(database *sql.DB, logger *slog.Logger) (*notify.Queue, error) {
	fq, err := filequeue.New(filequeue.Config{
		Dir:          config.GetEnvString("QUEUE_DIR", "./cache/queue"),
		ClaimTimeout: config.GetEnvDuration("QUEUE_CLAIM_TIMEOUT", 10*time.Minute),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("file queue: %w", err)
	}
	fileBackend := notify.Backend{Name: BackendFile, Repo: fq}

	cfg := notify.Config{
		DeliveryTimeout: config.GetEnvDuration("QUEUE_DELIVERY_TIMEOUT", notify.DefaultDeliveryTimeout),
		Logger:          logger,
	}

	backend := QueueBackend()
	if backend == BackendPostgres && database == nil {
		logger.Warn("QUEUE_BACKEND=postgres without a database, using file queue only")
		backend = BackendFile
	}
	if backend == BackendFile {
		return notify.NewQueue(fileBackend, cfg)
	}

	cfg.Fallback = &fileBackend
	return notify.NewQueue(notify.Backend{
		Name: BackendPostgres,
		Repo: pgRepo.NewNotificationQueueRepo(database),
	}, cfg)
}

// NewDeliverFunc posts to PUSH_GATEWAY_URL when set and only logs otherwise.
func NewDeliverFunc(logger *slog.Logger) notify.DeliverFunc {
	if url := config.GetEnvString("PUSH_GATEWAY_URL", ""); url != "" {
		cfg := notifier.DefaultGatewayConfig(url)
		cfg.Logger = logger
		logger.Info("push gateway delivery enabled")
		return notifier.NewGateway(cfg).Deliver
	}
	logger.Warn("PUSH_GATEWAY_URL not set, notifications are logged instead of delivered")
	return notifier.NewLogDeliverer(logger).Deliver
}
