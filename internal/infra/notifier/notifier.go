// Package notifier contains the push delivery adapters handed to the
// notification queue worker: a webhook gateway client and a log-only
// deliverer for environments without a gateway.
package notifier

import (
	"context"
)

// Deliverer attempts to deliver one push notification.
//
// Deliver reports success as a boolean so a method value can be passed
// straight to the queue as its delivery callback. Implementations must
// respect ctx: the queue bounds every attempt with a deadline.
type Deliverer interface {
	Deliver(ctx context.Context, recipientID, title, body string, payload map[string]any) bool
}
