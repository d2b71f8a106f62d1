// Package notify implements the asynchronous push notification queue.
//
// Handlers enqueue notifications without waiting for delivery; a worker
// drains the queue in batches through a DeliverFunc. Each item is tried at
// most entity.MaxDeliveryAttempts times and then dropped.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"feedstate/internal/domain/entity"
	"feedstate/internal/observability/tracing"
	"feedstate/internal/repository"
)

// DefaultDeliveryTimeout bounds a single delivery attempt.
const DefaultDeliveryTimeout = 10 * time.Second

// DeliverFunc attempts to deliver one message and reports whether it succeeded.
// It must honor ctx cancellation.
type DeliverFunc func(ctx context.Context, recipientID, title, body string, payload map[string]any) bool

// Result summarizes one Process call. Dropped items are also counted in Failed.
type Result struct {
	Total   int
	Success int
	Failed  int
	Dropped int
}

func (r *Result) add(o Result) {
	r.Total += o.Total
	r.Success += o.Success
	r.Failed += o.Failed
	r.Dropped += o.Dropped
}

// Backend is a named queue storage.
type Backend struct {
	Name string
	Repo repository.NotificationQueueRepository
}

// Config holds optional settings for a Queue.
type Config struct {
	// Fallback receives pushes the primary backend rejects. Process and Count
	// cover both backends.
	Fallback *Backend

	// DeliveryTimeout bounds each delivery attempt.
	// Default: 10s
	DeliveryTimeout time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Queue is the asynchronous delivery queue.
type Queue struct {
	backends []Backend
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewQueue creates a queue storing items in primary.
func NewQueue(primary Backend, cfg Config) (*Queue, error) {
	if primary.Repo == nil {
		return nil, ErrNoBackend
	}
	if primary.Name == "" {
		primary.Name = "primary"
	}
	backends := []Backend{primary}
	if cfg.Fallback != nil && cfg.Fallback.Repo != nil {
		fb := *cfg.Fallback
		if fb.Name == "" {
			fb.Name = "fallback"
		}
		backends = append(backends, fb)
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		backends: backends,
		timeout:  cfg.DeliveryTimeout,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

// Push enqueues a notification and reports whether a backend accepted it.
func (q *Queue) Push(ctx context.Context, recipientID, title, body string, payload map[string]any, priority entity.Priority) bool {
	n := &entity.QueuedNotification{
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Payload:     payload,
		Priority:    priority,
	}
	if err := q.Enqueue(ctx, n); err != nil {
		q.logger.Warn("notification not queued",
			slog.String("user_id", recipientID),
			slog.Any("error", err))
		return false
	}
	return true
}

// Enqueue validates n and stores it as pending in the first backend that
// accepts it. On success n carries its assigned ID and CreatedAt.
func (q *Queue) Enqueue(ctx context.Context, n *entity.QueuedNotification) error {
	priority, err := entity.ParsePriority(string(n.Priority))
	if err != nil {
		return err
	}
	n.Priority = priority
	if err := n.Validate(); err != nil {
		return err
	}
	n.Status = entity.StatusPending
	n.Attempts = 0
	n.ProcessedAt = nil
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.now().UTC()
	}

	var errs []error
	for _, b := range q.backends {
		err := b.Repo.Push(ctx, n)
		if err == nil {
			recordPushed(b.Name)
			return nil
		}
		q.logger.Warn("queue backend rejected notification",
			slog.String("backend", b.Name),
			slog.Any("error", err))
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}
	return fmt.Errorf("%w: %w", ErrQueueUnavailable, errors.Join(errs...))
}

// Process claims up to batchSize pending items, highest priority and oldest
// first, and attempts to deliver each once. Items are claimed exclusively, so
// concurrent Process calls never deliver the same item. Claim failures are
// logged and leave the items for the next call.
func (q *Queue) Process(ctx context.Context, batchSize int, deliver DeliverFunc) Result {
	var total Result
	if batchSize <= 0 {
		return total
	}

	ctx, span := tracing.GetTracer().Start(ctx, "notify.Process")
	defer span.End()
	start := time.Now()

	remaining := batchSize
	for _, b := range q.backends {
		if remaining == 0 || ctx.Err() != nil {
			break
		}
		res := q.processBackend(ctx, b, remaining, deliver)
		remaining -= res.Total
		total.add(res)
	}

	recordBatchDuration(time.Since(start))
	span.SetAttributes(
		attribute.Int("notify.batch_size", batchSize),
		attribute.Int("notify.total", total.Total),
		attribute.Int("notify.success", total.Success),
		attribute.Int("notify.failed", total.Failed),
		attribute.Int("notify.dropped", total.Dropped),
	)
	if total.Failed > 0 {
		span.SetStatus(codes.Error, "delivery failures")
	}
	return total
}

func (q *Queue) processBackend(ctx context.Context, b Backend, limit int, deliver DeliverFunc) Result {
	var res Result

	batch, err := b.Repo.Claim(ctx, limit)
	if err != nil {
		q.logger.Warn("claim failed",
			slog.String("backend", b.Name),
			slog.Any("error", err))
		return res
	}
	// outcomes are persisted even when ctx is canceled mid-batch
	persistCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := batch.Release(persistCtx); err != nil {
			q.logger.Error("release claimed batch failed",
				slog.String("backend", b.Name),
				slog.Any("error", err))
		}
	}()

	// Items left unrecorded after cancellation stay pending on Release.
	for _, n := range batch.Items() {
		if ctx.Err() != nil {
			break
		}
		reason := q.attempt(ctx, n, deliver)
		if reason == reasonAborted {
			q.logger.Info("delivery interrupted, item left pending",
				slog.String("id", n.ID))
			break
		}
		res.Total++
		now := q.now().UTC()

		if reason == "" {
			n.Status = entity.StatusSent
			n.ProcessedAt = &now
			res.Success++
			recordDelivered(b.Name)
		} else {
			n.Attempts++
			res.Failed++
			recordFailed(b.Name, reason)
			if n.Exhausted() {
				n.Status = entity.StatusDropped
				n.ProcessedAt = &now
				res.Dropped++
				recordDropped(b.Name)
				q.logger.Error("notification dropped after max attempts",
					slog.String("id", n.ID),
					slog.String("user_id", n.RecipientID),
					slog.Int("attempts", n.Attempts))
			}
		}

		if err := batch.Record(persistCtx, n); err != nil {
			q.logger.Error("record delivery outcome failed",
				slog.String("backend", b.Name),
				slog.String("id", n.ID),
				slog.Any("error", err))
		}
	}
	return res
}

// reasonAborted marks an attempt cut short by cancellation of the caller's
// context. It is neither a success nor a failed attempt.
const reasonAborted = "aborted"

// abortGrace bounds the wait for a delivery result once the caller's context
// is canceled.
const abortGrace = time.Second

// attempt runs deliver under the delivery timeout. It returns "" on success,
// reasonAborted when ctx was canceled before deliver reported, or the
// failure reason.
func (q *Queue) attempt(ctx context.Context, n *entity.QueuedNotification, deliver DeliverFunc) string {
	dctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	// buffered so a deliver that ignores ctx can still finish after we stop waiting
	done := make(chan string, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("delivery panicked",
					slog.String("id", n.ID),
					slog.Any("panic", r))
				done <- "panic"
			}
		}()
		if deliver(dctx, n.RecipientID, n.Title, n.Body, n.Payload) {
			done <- ""
			return
		}
		done <- "rejected"
	}()

	select {
	case reason := <-done:
		if reason != "" && ctx.Err() != nil {
			return reasonAborted
		}
		return reason
	case <-dctx.Done():
	}

	if ctx.Err() != nil {
		// give deliver a moment to report a send that completed before it
		// noticed the cancellation
		grace := time.NewTimer(abortGrace)
		defer grace.Stop()
		select {
		case reason := <-done:
			if reason == "" {
				return ""
			}
		case <-grace.C:
		}
		return reasonAborted
	}
	select {
	case reason := <-done:
		return reason
	default:
	}
	q.logger.Warn("delivery timed out",
		slog.String("id", n.ID),
		slog.Duration("timeout", q.timeout))
	return "timeout"
}

// Count returns the number of pending items across all backends. Backend
// errors are logged and count as zero.
func (q *Queue) Count(ctx context.Context) int {
	total := 0
	for _, b := range q.backends {
		n, err := b.Repo.CountPending(ctx)
		if err != nil {
			q.logger.Warn("count pending failed",
				slog.String("backend", b.Name),
				slog.Any("error", err))
			continue
		}
		total += n
	}
	setPending(total)
	return total
}

// Cleanup removes processed items older than olderThanDays from every backend
// and returns how many were removed.
func (q *Queue) Cleanup(ctx context.Context, olderThanDays int) int64 {
	if olderThanDays < 0 {
		olderThanDays = 0
	}
	cutoff := q.now().UTC().AddDate(0, 0, -olderThanDays)

	var removed int64
	for _, b := range q.backends {
		n, err := b.Repo.Cleanup(ctx, cutoff)
		if err != nil {
			q.logger.Warn("queue cleanup failed",
				slog.String("backend", b.Name),
				slog.Any("error", err))
			continue
		}
		removed += n
	}
	return removed
}
