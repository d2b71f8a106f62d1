package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"feedstate/internal/pkg/config"
	"feedstate/internal/usecase/notify"
	"feedstate/pkg/tier"
)

// Queue is the part of notify.Queue the drainer uses.
type Queue interface {
	Process(ctx context.Context, batchSize int, deliver notify.DeliverFunc) notify.Result
	Count(ctx context.Context) int
	Cleanup(ctx context.Context, olderThanDays int) int64
}

// TierSource returns the active storage tier; cleanup sweeps it when the
// tier supports tier.Sweeper.
type TierSource interface {
	Select(ctx context.Context) tier.Tier
}

// DrainerConfig controls a Drainer.
type DrainerConfig struct {
	BatchSize   int
	IdleSleep   time.Duration
	CleanupDays int

	// Daemon keeps draining until the context is canceled. Otherwise Run
	// returns once the queue is empty or stops making progress.
	Daemon bool
}

// Summary totals a Run.
type Summary struct {
	Batches int
	notify.Result
}

// Drainer repeatedly processes the queue.
type Drainer struct {
	queue   Queue
	deliver notify.DeliverFunc
	state   TierSource
	cfg     DrainerConfig
	metrics *WorkerMetrics
	logger  *slog.Logger
}

// NewDrainer creates a drainer. state may be nil when no tier needs sweeping.
func NewDrainer(queue Queue, deliver notify.DeliverFunc, state TierSource, cfg DrainerConfig, metrics *WorkerMetrics, logger *slog.Logger) *Drainer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = def.IdleSleep
	}
	if cfg.CleanupDays <= 0 {
		cfg.CleanupDays = def.CleanupDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		queue:   queue,
		deliver: deliver,
		state:   state,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Run drains the queue.
//
// A batch that delivers or drops nothing means the remaining items are
// failing; one-shot mode stops there and leaves them for the next run, daemon
// mode backs off for IdleSleep. One-shot mode runs cleanup before returning;
// daemon mode runs until ctx is canceled and leaves cleanup to ScheduleCleanup.
func (d *Drainer) Run(ctx context.Context) Summary {
	var sum Summary
	for ctx.Err() == nil {
		if d.queue.Count(ctx) == 0 {
			d.recordBatch("idle")
			if !d.cfg.Daemon {
				break
			}
			d.sleep(ctx)
			continue
		}

		res := d.queue.Process(ctx, d.cfg.BatchSize, d.deliver)
		sum.Batches++
		sum.Total += res.Total
		sum.Success += res.Success
		sum.Failed += res.Failed
		sum.Dropped += res.Dropped
		d.recordItems(res)

		d.logger.Info("queue batch processed",
			slog.Int("total", res.Total),
			slog.Int("success", res.Success),
			slog.Int("failed", res.Failed),
			slog.Int("dropped", res.Dropped))

		if res.Success+res.Dropped > 0 {
			d.recordBatch("delivered")
			continue
		}
		d.recordBatch("failing")
		if !d.cfg.Daemon {
			break
		}
		d.sleep(ctx)
	}

	if !d.cfg.Daemon {
		d.Cleanup(context.WithoutCancel(ctx))
	}
	return sum
}

func (d *Drainer) sleep(ctx context.Context) {
	t := time.NewTimer(d.cfg.IdleSleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Cleanup deletes old processed queue items and sweeps expired entries from
// the active storage tier.
func (d *Drainer) Cleanup(ctx context.Context) {
	removed := d.queue.Cleanup(ctx, d.cfg.CleanupDays)

	var swept int
	if d.state != nil {
		if s, ok := d.state.Select(ctx).(tier.Sweeper); ok {
			n, err := s.Sweep(ctx)
			if err != nil {
				d.logger.Warn("tier sweep failed", slog.Any("error", err))
			}
			swept = n
		}
	}

	if d.metrics != nil {
		d.metrics.CleanupRunsTotal.Inc()
		d.metrics.CleanupRemovedTotal.WithLabelValues("queue").Add(float64(removed))
		d.metrics.CleanupRemovedTotal.WithLabelValues("tier").Add(float64(swept))
		d.metrics.LastCleanupTimestamp.SetToCurrentTime()
	}
	d.logger.Info("cleanup completed",
		slog.Int64("queue_removed", removed),
		slog.Int("tier_swept", swept))
}

// ScheduleCleanup returns a started cron running Cleanup on schedule in loc.
// Stop the returned cron to end the schedule.
func (d *Drainer) ScheduleCleanup(ctx context.Context, schedule string, loc *time.Location) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(config.CronParser))
	if _, err := c.AddFunc(schedule, func() { d.Cleanup(ctx) }); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func (d *Drainer) recordBatch(outcome string) {
	if d.metrics != nil {
		d.metrics.BatchesTotal.WithLabelValues(outcome).Inc()
	}
}

func (d *Drainer) recordItems(res notify.Result) {
	if d.metrics == nil {
		return
	}
	d.metrics.ItemsTotal.WithLabelValues("success").Add(float64(res.Success))
	d.metrics.ItemsTotal.WithLabelValues("failed").Add(float64(res.Failed))
	d.metrics.ItemsTotal.WithLabelValues("dropped").Add(float64(res.Dropped))
}
