package repository

import (
	"context"
	"time"

	"feedstate/internal/domain/entity"
)

// NotificationQueueRepository stores queued push notifications.
//
// Claim hands out pending items exclusively: two consumers claiming at the
// same time never receive the same item.
type NotificationQueueRepository interface {
	// Push durably records a pending notification. It never delivers.
	Push(ctx context.Context, n *entity.QueuedNotification) error

	// Claim takes up to limit pending items, highest priority first and oldest
	// first within a priority. The caller must Release the batch.
	Claim(ctx context.Context, limit int) (ClaimedBatch, error)

	// CountPending returns the number of pending items.
	CountPending(ctx context.Context) (int, error)

	// Cleanup removes processed items older than cutoff and returns how many
	// were removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClaimedBatch is a set of items held exclusively by one consumer.
type ClaimedBatch interface {
	Items() []*entity.QueuedNotification

	// Record persists the item's Status, Attempts and ProcessedAt. Items
	// still pending return to the queue when the batch is released.
	Record(ctx context.Context, n *entity.QueuedNotification) error

	// Release ends the claim. Items without a Record stay pending.
	Release(ctx context.Context) error
}
