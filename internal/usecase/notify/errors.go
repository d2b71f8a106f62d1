package notify

import "errors"

var (
	// ErrQueueUnavailable is returned by Enqueue when no backend accepted the item.
	ErrQueueUnavailable = errors.New("notification queue unavailable")

	// ErrNoBackend is returned by NewQueue when the primary backend has no repository.
	ErrNoBackend = errors.New("notification queue needs a backend")
)
