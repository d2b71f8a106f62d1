package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsPushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_notifications_pushed_total",
			Help: "Total number of notifications accepted by a queue backend",
		},
		[]string{"backend"},
	)

	notificationsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_notifications_delivered_total",
			Help: "Total number of notifications delivered",
		},
		[]string{"backend"},
	)

	notificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_notifications_failed_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"backend", "reason"}, // reason: rejected|timeout|panic
	)

	notificationsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedstate_notifications_dropped_total",
			Help: "Total number of notifications dropped after exhausting their attempts",
		},
		[]string{"backend"},
	)

	notificationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedstate_notifications_pending",
			Help: "Pending notifications across all queue backends at the last count",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedstate_notification_batch_duration_seconds",
			Help:    "Time taken to process one batch of notifications",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)
)

func recordPushed(backend string) {
	notificationsPushedTotal.WithLabelValues(backend).Inc()
}

func recordDelivered(backend string) {
	notificationsDeliveredTotal.WithLabelValues(backend).Inc()
}

func recordFailed(backend, reason string) {
	notificationsFailedTotal.WithLabelValues(backend, reason).Inc()
}

func recordDropped(backend string) {
	notificationsDroppedTotal.WithLabelValues(backend).Inc()
}

func setPending(n int) {
	notificationsPending.Set(float64(n))
}

func recordBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}
