package notifier

import (
	"context"
	"log/slog"
)

// LogDeliverer accepts every notification and only logs it. It is used when
// no push gateway is configured so the worker still drains the queue.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer creates a LogDeliverer. A nil logger uses slog.Default().
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeliverer{logger: logger}
}

// Deliver logs the notification and reports success unless ctx is done.
func (d *LogDeliverer) Deliver(ctx context.Context, recipientID, title, _ string, payload map[string]any) bool {
	if ctx.Err() != nil {
		return false
	}
	d.logger.Info("push notification (log only)",
		slog.String("user_id", recipientID),
		slog.String("title", title),
		slog.Int("payload_keys", len(payload)))
	return true
}
