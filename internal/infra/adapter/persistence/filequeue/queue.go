// Package filequeue is a notification queue stored as one JSON file per item.
//
// Layout under the queue directory:
//
//	pending/<order>_<created_ns>_<id>.json   waiting for delivery
//	claimed/<same name>                       held by a consumer
//
// File names sort in delivery order, so a directory listing is the queue.
// A consumer claims an item by renaming it into claimed/; the rename is
// atomic, so a competing consumer gets ENOENT and moves on. The directory
// must live on a single filesystem.
package filequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedstate/internal/domain/entity"
	"feedstate/internal/repository"
)

const (
	pendingDir = "pending"
	claimedDir = "claimed"
	fileExt    = ".json"
)

// Config configures a file queue.
type Config struct {
	// Dir is the queue root. It is created when missing.
	Dir string

	// ClaimTimeout is how long a claim may be held before Cleanup returns
	// the item to pending. Default: 10m
	ClaimTimeout time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// Queue implements repository.NotificationQueueRepository on the filesystem.
type Queue struct {
	pending      string
	claimed      string
	claimTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

var _ repository.NotificationQueueRepository = (*Queue)(nil)

// New creates the queue directories and returns the queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Dir == "" {
		return nil, errors.New("filequeue: directory is required")
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Queue{
		pending:      filepath.Join(cfg.Dir, pendingDir),
		claimed:      filepath.Join(cfg.Dir, claimedDir),
		claimTimeout: cfg.ClaimTimeout,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
	for _, dir := range []string{q.pending, q.claimed} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("filequeue: create %s: %w", dir, err)
		}
	}
	return q, nil
}

// fileName encodes the delivery order: higher priority first, then older first.
func fileName(n *entity.QueuedNotification) string {
	return fmt.Sprintf("%d_%020d_%s%s", 9-n.Priority.Rank(), n.CreatedAt.UnixNano(), n.ID, fileExt)
}

// Push writes the item to a temporary file and renames it into pending/, so
// consumers never observe a partial file.
func (q *Queue) Push(ctx context.Context, n *entity.QueuedNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.now().UTC()
	}
	if n.Status == "" {
		n.Status = entity.StatusPending
	}
	if err := q.writeAtomic(filepath.Join(q.pending, fileName(n)), n); err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	return nil
}

// Claim moves up to limit pending items into claimed/.
func (q *Queue) Claim(ctx context.Context, limit int) (repository.ClaimedBatch, error) {
	entries, err := os.ReadDir(q.pending)
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}

	batch := &claimedBatch{queue: q, names: make(map[string]string)}
	now := q.now()
	for _, e := range entries {
		if len(batch.items) >= limit || ctx.Err() != nil {
			break
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		claimedPath := filepath.Join(q.claimed, name)
		if err := os.Rename(filepath.Join(q.pending, name), claimedPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // claimed by another consumer
			}
			_ = batch.Release(ctx)
			return nil, fmt.Errorf("Claim: %w", err)
		}
		// rename keeps the mtime; stamp the claim time for stale-claim recovery
		_ = os.Chtimes(claimedPath, now, now)

		n, err := readItem(claimedPath)
		if err != nil {
			q.logger.Warn("removing corrupt queue file",
				slog.String("file", name),
				slog.Any("error", err))
			_ = os.Remove(claimedPath)
			continue
		}
		batch.items = append(batch.items, n)
		batch.names[n.ID] = name
	}
	return batch, nil
}

// CountPending counts files in pending/.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(q.pending)
	if err != nil {
		return 0, fmt.Errorf("CountPending: %w", err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileExt) {
			count++
		}
	}
	return count, nil
}

// Cleanup removes nothing: processed items are deleted as soon as they are
// recorded. It returns abandoned claims to pending instead.
func (q *Queue) Cleanup(ctx context.Context, _ time.Time) (int64, error) {
	recovered, err := q.RecoverStale(ctx)
	if recovered > 0 {
		q.logger.Warn("requeued abandoned queue claims", slog.Int("count", recovered))
	}
	return 0, err
}

// RecoverStale moves claims older than the claim timeout back to pending/.
// A claim goes stale when its consumer exits without releasing it.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(q.claimed)
	if err != nil {
		return 0, fmt.Errorf("RecoverStale: %w", err)
	}
	cutoff := q.now().Add(-q.claimTimeout)
	recovered := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Rename(filepath.Join(q.claimed, name), filepath.Join(q.pending, name)); err == nil {
			recovered++
		}
	}
	return recovered, nil
}

func (q *Queue) writeAtomic(path string, n *entity.QueuedNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func readItem(path string) (*entity.QueuedNotification, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the queue directory listing
	if err != nil {
		return nil, err
	}
	var n entity.QueuedNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		return nil, errors.New("missing id")
	}
	return &n, nil
}

type claimedBatch struct {
	queue *Queue
	mu    sync.Mutex
	items []*entity.QueuedNotification
	names map[string]string // id -> file name, removed once recorded
}

func (b *claimedBatch) Items() []*entity.QueuedNotification { return b.items }

// Record deletes delivered and dropped items and writes retries back to
// pending/ under their original name, keeping their place in the queue.
func (b *claimedBatch) Record(_ context.Context, n *entity.QueuedNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, ok := b.names[n.ID]
	if !ok {
		return fmt.Errorf("Record: %s is not part of this batch", n.ID)
	}
	claimedPath := filepath.Join(b.queue.claimed, name)

	if n.Status == entity.StatusPending {
		if err := b.queue.writeAtomic(filepath.Join(b.queue.pending, name), n); err != nil {
			return fmt.Errorf("Record: %w", err)
		}
	}
	if err := os.Remove(claimedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("Record: %w", err)
	}
	delete(b.names, n.ID)
	return nil
}

// Release returns unrecorded items to pending/.
func (b *claimedBatch) Release(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for id, name := range b.names {
		if err := os.Rename(filepath.Join(b.queue.claimed, name), filepath.Join(b.queue.pending, name)); err != nil {
			errs = append(errs, err)
		}
		delete(b.names, id)
	}
	return errors.Join(errs...)
}
