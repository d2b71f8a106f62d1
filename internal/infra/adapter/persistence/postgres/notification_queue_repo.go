package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"feedstate/internal/domain/entity"
	"feedstate/internal/repository"
	"feedstate/internal/resilience/circuitbreaker"
	"feedstate/internal/resilience/retry"
)

// NotificationQueueRepo is the Postgres-backed notification queue. Claims use
// SELECT ... FOR UPDATE SKIP LOCKED inside a transaction held for the batch.
type NotificationQueueRepo struct {
	db    *circuitbreaker.DB
	retry retry.Policy
}

func NewNotificationQueueRepo(db *sql.DB) *NotificationQueueRepo {
	return &NotificationQueueRepo{
		db:    circuitbreaker.NewDB(db, circuitbreaker.QueueDBConfig()),
		retry: retry.DBPolicy(),
	}
}

var _ repository.NotificationQueueRepository = (*NotificationQueueRepo)(nil)

func (repo *NotificationQueueRepo) Push(ctx context.Context, n *entity.QueuedNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = entity.StatusPending
	}
	data, err := marshalPayload(n.Payload)
	if err != nil {
		return fmt.Errorf("Push: %w", err)
	}

	const query = `
INSERT INTO notification_queue (id, user_id, title, body, data, priority, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	err = retry.Do(ctx, repo.retry, func(ctx context.Context) error {
		_, execErr := repo.db.ExecContext(ctx, query,
			n.ID, n.RecipientID, n.Title, n.Body, data,
			n.Priority.Rank(), string(n.Status), n.Attempts, n.CreatedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	return nil
}

func (repo *NotificationQueueRepo) Claim(ctx context.Context, limit int) (repository.ClaimedBatch, error) {
	// The transaction outlives ctx so outcomes recorded before a shutdown
	// are still committed by Release.
	tx, err := repo.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("Claim: begin: %w", err)
	}

	const query = `
SELECT id, user_id, title, body, data, priority, attempts, created_at
FROM notification_queue
WHERE status = 'pending' AND attempts < $1
ORDER BY priority DESC, created_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, entity.MaxDeliveryAttempts, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("Claim: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*entity.QueuedNotification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("Claim: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("Claim: %w", err)
	}
	return &claimedBatch{tx: tx, items: items}, nil
}

func (repo *NotificationQueueRepo) CountPending(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM notification_queue WHERE status = 'pending'`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("CountPending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("CountPending: %w", err)
		}
	}
	return count, rows.Err()
}

func (repo *NotificationQueueRepo) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
DELETE FROM notification_queue
WHERE status IN ('sent', 'dropped') AND processed_at < $1`
	res, err := repo.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("Cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type claimedBatch struct {
	tx    *sql.Tx
	items []*entity.QueuedNotification
}

func (b *claimedBatch) Items() []*entity.QueuedNotification { return b.items }

func (b *claimedBatch) Record(ctx context.Context, n *entity.QueuedNotification) error {
	const query = `
UPDATE notification_queue SET
       status       = $1,
       attempts     = $2,
       processed_at = $3
WHERE id = $4`
	if _, err := b.tx.ExecContext(ctx, query, string(n.Status), n.Attempts, n.ProcessedAt, n.ID); err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

// Release commits the batch. The row locks are dropped with the commit, so
// items that were never recorded are claimable again.
func (b *claimedBatch) Release(ctx context.Context) error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func scanNotification(rows *sql.Rows) (*entity.QueuedNotification, error) {
	var (
		n    entity.QueuedNotification
		data []byte
		rank int
	)
	if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &data, &rank, &n.Attempts, &n.CreatedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	n.Priority = entity.PriorityFromRank(rank)
	n.Status = entity.StatusPending
	return &n, nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	return data, nil
}
