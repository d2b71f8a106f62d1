package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedstate/internal/domain/entity"
	"feedstate/internal/infra/adapter/persistence/filequeue"
	"feedstate/internal/repository"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// steppingClock returns a strictly increasing time on every call.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newFileBackend(t *testing.T) Backend {
	t.Helper()
	q, err := filequeue.New(filequeue.Config{Dir: t.TempDir(), Logger: discardLogger})
	require.NoError(t, err)
	return Backend{Name: "file", Repo: q}
}

func newTestQueue(t *testing.T, primary Backend, cfg Config) *Queue {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = newSteppingClock().Now
	}
	cfg.Logger = discardLogger
	q, err := NewQueue(primary, cfg)
	require.NoError(t, err)
	return q
}

func alwaysDeliver(context.Context, string, string, string, map[string]any) bool { return true }
func neverDeliver(context.Context, string, string, string, map[string]any) bool  { return false }

// stubRepo is a queue backend whose operations fail or record their inputs.
type stubRepo struct {
	pushErr    error
	claimErr   error
	countErr   error
	cleanupErr error

	pending int
	removed int64
	cutoff  time.Time
	pushed  []*entity.QueuedNotification
}

func (s *stubRepo) Push(_ context.Context, n *entity.QueuedNotification) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, n)
	return nil
}

func (s *stubRepo) Claim(context.Context, int) (repository.ClaimedBatch, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return emptyBatch{}, nil
}

func (s *stubRepo) CountPending(context.Context) (int, error) {
	return s.pending, s.countErr
}

func (s *stubRepo) Cleanup(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.removed, s.cleanupErr
}

type emptyBatch struct{}

func (emptyBatch) Items() []*entity.QueuedNotification                    { return nil }
func (emptyBatch) Record(context.Context, *entity.QueuedNotification) error { return nil }
func (emptyBatch) Release(context.Context) error                          { return nil }

func TestNewQueue_RequiresBackend(t *testing.T) {
	_, err := NewQueue(Backend{Name: "none"}, Config{})
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestQueue_ProcessDeliversHighPriorityFirst(t *testing.T) {
	q := newTestQueue(t, newFileBackend(t), Config{})
	ctx := context.Background()

	require.True(t, q.Push(ctx, "u1", "first normal", "", nil, entity.PriorityNormal))
	require.True(t, q.Push(ctx, "u2", "urgent", "", nil, entity.PriorityHigh))
	require.True(t, q.Push(ctx, "u3", "second normal", "", nil, entity.PriorityNormal))

	var order []string
	res := q.Process(ctx, 10, func(_ context.Context, _, title, _ string, _ map[string]any) bool {
		order = append(order, title)
		return true
	})

	assert.Equal(t, []string{"urgent", "first normal", "second normal"}, order)
	assert.Equal(t, Result{Total: 3, Success: 3}, res)
	assert.Equal(t, 0, q.Count(ctx))
}

func TestQueue_ProcessRespectsBatchSize(t *testing.T) {
	q := newTestQueue(t, newFileBackend(t), Config{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(ctx, "u", "hello", "", nil, ""))
	}

	res := q.Process(ctx, 2, alwaysDeliver)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 3, q.Count(ctx))

	assert.Equal(t, Result{}, q.Process(ctx, 0, alwaysDeliver))
}

func TestQueue_DropsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t, newFileBackend(t), Config{})
	ctx := context.Background()
	require.True(t, q.Push(ctx, "u1", "hello", "world", map[string]any{"post_id": "42"}, entity.PriorityNormal))

	droppedBefore := testutil.ToFloat64(notificationsDroppedTotal.WithLabelValues("file"))

	var calls atomic.Int32
	deliver := func(context.Context, string, string, string, map[string]any) bool {
		calls.Add(1)
		return false
	}

	for attempt := 1; attempt < entity.MaxDeliveryAttempts; attempt++ {
		res := q.Process(ctx, 10, deliver)
		assert.Equal(t, Result{Total: 1, Failed: 1}, res, "attempt %d", attempt)
		assert.Equal(t, 1, q.Count(ctx), "item stays pending after attempt %d", attempt)
	}

	res := q.Process(ctx, 10, deliver)
	assert.Equal(t, Result{Total: 1, Failed: 1, Dropped: 1}, res)
	assert.Equal(t, 0, q.Count(ctx))

	res = q.Process(ctx, 10, deliver)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, int32(entity.MaxDeliveryAttempts), calls.Load())
	assert.Equal(t, droppedBefore+1, testutil.ToFloat64(notificationsDroppedTotal.WithLabelValues("file")))
}

func TestQueue_ConcurrentProcessClaimsDistinctItems(t *testing.T) {
	q := newTestQueue(t, newFileBackend(t), Config{})
	ctx := context.Background()
	require.True(t, q.Push(ctx, "alice", "hello", "", nil, ""))
	require.True(t, q.Push(ctx, "bob", "hello", "", nil, ""))

	var (
		mu        sync.Mutex
		delivered []string
	)
	deliver := func(_ context.Context, recipient, _, _ string, _ map[string]any) bool {
		mu.Lock()
		delivered = append(delivered, recipient)
		mu.Unlock()
		return true
	}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = q.Process(ctx, 1, deliver)
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"alice", "bob"}, delivered)
	assert.Equal(t, 1, results[0].Success)
	assert.Equal(t, 1, results[1].Success)
}

func TestQueue_DeliveryTimeoutCountsAsFailure(t *testing.T) {
	q := newTestQueue(t, newFileBackend(t), Config{DeliveryTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	require.True(t, q.Push(ctx, "u1", "slow", "", nil, ""))

	start := time.Now()
	res := q.Process(ctx, 1, func(ctx context.Context, _, _, _ string, _ map[string]any) bool {
		<-ctx.Done()
		return true
	})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, Result{Total: 1, Failed: 1}, res)
	assert.Equal(t, 1, q.Count(ctx))
}

func TestQueue_DeliveryPanicCountsAsFailure(t *testing.T) {
	q := newTestQueue(t, newFileBackend(t), Config{})
	ctx := context.Background()
	require.True(t, q.Push(ctx, "u1", "boom", "", nil, ""))

	failedBefore := testutil.ToFloat64(notificationsFailedTotal.WithLabelValues("file", "panic"))

	var res Result
	assert.NotPanics(t, func() {
		res = q.Process(ctx, 1, func(context.Context, string, string, string, map[string]any) bool {
			panic("gateway exploded")
		})
	})
	assert.Equal(t, Result{Total: 1, Failed: 1}, res)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(notificationsFailedTotal.WithLabelValues("file", "panic")))
}

func TestQueue_EnqueueValidation(t *testing.T) {
	primary := &stubRepo{}
	q := newTestQueue(t, Backend{Name: "stub", Repo: primary}, Config{})

	tests := []struct {
		name string
		n    entity.QueuedNotification
	}{
		{"missing recipient", entity.QueuedNotification{Title: "hi"}},
		{"missing title", entity.QueuedNotification{RecipientID: "u1"}},
		{"unknown priority", entity.QueuedNotification{RecipientID: "u1", Title: "hi", Priority: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.n
			err := q.Enqueue(context.Background(), &n)
			assert.ErrorIs(t, err, entity.ErrValidationFailed)
		})
	}
	assert.Empty(t, primary.pushed)
}

func TestQueue_EnqueueNormalizesItem(t *testing.T) {
	primary := &stubRepo{}
	q := newTestQueue(t, Backend{Name: "stub", Repo: primary}, Config{})

	n := &entity.QueuedNotification{RecipientID: "u1", Title: "hi", Priority: " HIGH ", Attempts: 2, Status: entity.StatusSent}
	require.NoError(t, q.Enqueue(context.Background(), n))

	require.Len(t, primary.pushed, 1)
	got := primary.pushed[0]
	assert.Equal(t, entity.PriorityHigh, got.Priority)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Zero(t, got.Attempts)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestQueue_PushFallsBackToSecondaryBackend(t *testing.T) {
	primary := &stubRepo{pushErr: errors.New("connection refused")}
	fallback := newFileBackend(t)
	q := newTestQueue(t, Backend{Name: "postgres", Repo: primary}, Config{Fallback: &fallback})
	ctx := context.Background()

	pushedBefore := testutil.ToFloat64(notificationsPushedTotal.WithLabelValues("file"))

	assert.True(t, q.Push(ctx, "u1", "hello", "", nil, entity.PriorityNormal))
	assert.Equal(t, pushedBefore+1, testutil.ToFloat64(notificationsPushedTotal.WithLabelValues("file")))
	assert.Equal(t, 1, q.Count(ctx))

	res := q.Process(ctx, 10, alwaysDeliver)
	assert.Equal(t, Result{Total: 1, Success: 1}, res)
}

func TestQueue_PushFailsWhenAllBackendsFail(t *testing.T) {
	primary := &stubRepo{pushErr: errors.New("primary down")}
	fallback := &stubRepo{pushErr: errors.New("disk full")}
	q := newTestQueue(t, Backend{Name: "postgres", Repo: primary}, Config{Fallback: &Backend{Name: "file", Repo: fallback}})

	err := q.Enqueue(context.Background(), &entity.QueuedNotification{RecipientID: "u1", Title: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
	assert.Contains(t, err.Error(), "disk full")

	assert.False(t, q.Push(context.Background(), "u1", "hi", "", nil, ""))
}

func TestQueue_ProcessSkipsBackendThatCannotClaim(t *testing.T) {
	primary := &stubRepo{claimErr: errors.New("database is locked")}
	fallback := newFileBackend(t)
	q := newTestQueue(t, Backend{Name: "postgres", Repo: primary}, Config{Fallback: &fallback})
	ctx := context.Background()

	require.NoError(t, fallback.Repo.Push(ctx, &entity.QueuedNotification{RecipientID: "u1", Title: "hi", Priority: entity.PriorityNormal}))

	res := q.Process(ctx, 10, neverDeliver)
	assert.Equal(t, Result{Total: 1, Failed: 1}, res)
}

func TestQueue_CountTreatsErrorsAsZero(t *testing.T) {
	primary := &stubRepo{countErr: errors.New("timeout")}
	fallback := &stubRepo{pending: 4}
	q := newTestQueue(t, Backend{Name: "postgres", Repo: primary}, Config{Fallback: &Backend{Name: "file", Repo: fallback}})

	assert.Equal(t, 4, q.Count(context.Background()))
	assert.Equal(t, float64(4), testutil.ToFloat64(notificationsPending))
}

func TestQueue_CleanupUsesDayCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	primary := &stubRepo{removed: 3}
	fallback := &stubRepo{cleanupErr: errors.New("read-only")}
	q := newTestQueue(t, Backend{Name: "postgres", Repo: primary}, Config{
		Fallback: &Backend{Name: "file", Repo: fallback},
		Now:      func() time.Time { return now },
	})

	removed := q.Cleanup(context.Background(), 7)

	assert.Equal(t, int64(3), removed)
	assert.Equal(t, now.AddDate(0, 0, -7), primary.cutoff)
}

func TestQueue_CancelMidBatchLeavesRemainingPending(t *testing.T) {
	backend := newFileBackend(t)
	q := newTestQueue(t, backend, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, backend.Repo.Push(ctx, &entity.QueuedNotification{
		RecipientID: "u1", Title: "a", Priority: entity.PriorityHigh,
	}))
	require.NoError(t, backend.Repo.Push(ctx, &entity.QueuedNotification{
		RecipientID: "u2", Title: "b", Priority: entity.PriorityNormal, Attempts: 2,
	}))

	var calls atomic.Int32
	res := q.Process(ctx, 10, func(context.Context, string, string, string, map[string]any) bool {
		calls.Add(1)
		cancel()
		return true
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Result{Total: 1, Success: 1}, res)

	batch, err := backend.Repo.Claim(context.Background(), 10)
	require.NoError(t, err)
	defer func() { _ = batch.Release(context.Background()) }()
	require.Len(t, batch.Items(), 1)
	left := batch.Items()[0]
	assert.Equal(t, "b", left.Title)
	assert.Equal(t, 2, left.Attempts)
	assert.Equal(t, entity.StatusPending, left.Status)
}

func TestQueue_CancelDuringDeliveryIsNotAFailure(t *testing.T) {
	backend := newFileBackend(t)
	q := newTestQueue(t, backend, Config{DeliveryTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, q.Push(ctx, "u1", "slow", "", nil, ""))

	timeoutsBefore := testutil.ToFloat64(notificationsFailedTotal.WithLabelValues("file", "timeout"))

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()
	res := q.Process(ctx, 1, func(dctx context.Context, _, _, _ string, _ map[string]any) bool {
		close(started)
		<-dctx.Done()
		return false
	})

	assert.Equal(t, Result{}, res)
	assert.Equal(t, timeoutsBefore, testutil.ToFloat64(notificationsFailedTotal.WithLabelValues("file", "timeout")))

	batch, err := backend.Repo.Claim(context.Background(), 10)
	require.NoError(t, err)
	defer func() { _ = batch.Release(context.Background()) }()
	require.Len(t, batch.Items(), 1)
	assert.Zero(t, batch.Items()[0].Attempts)
}
