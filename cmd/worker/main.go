// Command worker drains the push notification queue.
//
// Without -daemon it processes batches until the queue is empty or stops
// making progress, runs cleanup, prints a summary and exits; this is the
// mode for an external cron. With -daemon it keeps draining, runs cleanup
// on QUEUE_CLEANUP_SCHEDULE and serves health and metrics endpoints.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"feedstate/internal/bootstrap"
	workerPkg "feedstate/internal/infra/worker"
	"feedstate/internal/observability/logging"
	"feedstate/internal/observability/tracing"
	"feedstate/pkg/tier"
)

func main() {
	batch := flag.Int("batch", 0, "notifications per batch (default QUEUE_BATCH_SIZE or 50)")
	daemon := flag.Bool("daemon", false, "keep draining until SIGINT or SIGTERM")
	flag.Parse()

	logger := logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(logger, *batch, *daemon); err != nil {
		logger.Error("worker failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, batch int, daemon bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(1)
	defer func() { _ = shutdownTracing(context.Background()) }()

	workerMetrics := workerPkg.NewWorkerMetrics(nil)
	cfg := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if batch > 0 {
		cfg.BatchSize = batch
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid -batch: %w", err)
	}

	// without DATABASE_URL the file queue is used
	database, err := bootstrap.OpenDatabase(ctx, logger, false)
	if err != nil {
		return err
	}
	if database != nil {
		defer func() { _ = database.Close() }()
	}

	selector := bootstrap.NewSelector(logger)
	defer func() { _ = selector.Close() }()

	queue, err := bootstrap.OpenQueue(database, logger)
	if err != nil {
		return err
	}

	drainer := workerPkg.NewDrainer(queue, bootstrap.NewDeliverFunc(logger), selector, workerPkg.DrainerConfig{
		BatchSize:   cfg.BatchSize,
		IdleSleep:   cfg.IdleSleep,
		CleanupDays: cfg.CleanupDays,
		Daemon:      daemon,
	}, workerMetrics, logger)

	logger.Info("worker starting",
		slog.Bool("daemon", daemon),
		slog.Int("batch_size", cfg.BatchSize),
		slog.String("queue_backend", bootstrap.QueueBackend()))

	if !daemon {
		sum := drainer.Run(ctx)
		fmt.Printf("Processed: %d, Success: %d, Failed: %d, Dropped: %d\n",
			sum.Total, sum.Success, sum.Failed, sum.Dropped)
		return nil
	}
	return runDaemon(ctx, logger, cfg, drainer, database, selector)
}

func runDaemon(ctx context.Context, logger *slog.Logger, cfg *workerPkg.WorkerConfig, drainer *workerPkg.Drainer, database *sql.DB, selector *tier.Selector) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	scheduler, err := drainer.ScheduleCleanup(ctx, cfg.CleanupSchedule, loc)
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	defer func() { <-scheduler.Stop().Done() }()
	logger.Info("cleanup scheduled",
		slog.String("schedule", cfg.CleanupSchedule),
		slog.String("timezone", cfg.Timezone))

	health := workerPkg.NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort), logger)
	if database != nil {
		health.AddCheck("database", database.PingContext)
	}
	health.AddCheck("state", func(ctx context.Context) error {
		_, err := selector.Select(ctx).Get(ctx, "health:probe")
		if err != nil && !errors.Is(err, tier.ErrNotFound) {
			return err
		}
		return nil
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.Start(gctx) })
	g.Go(func() error { return workerPkg.Serve(gctx, metricsSrv, "metrics", logger) })
	g.Go(func() error {
		sum := drainer.Run(gctx)
		logger.Info("worker stopped",
			slog.Int("batches", sum.Batches),
			slog.Int("total", sum.Total),
			slog.Int("success", sum.Success),
			slog.Int("failed", sum.Failed))
		return nil
	})
	health.SetReady(true)

	return g.Wait()
}
