package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"feedstate/internal/pkg/config"
)

// WorkerMetrics covers the drain loop and scheduled cleanup. Configuration
// load metrics are embedded with the "worker" prefix.
type WorkerMetrics struct {
	*config.ConfigMetrics

	// BatchesTotal counts Process calls by outcome: delivered, idle, failing.
	BatchesTotal *prometheus.CounterVec

	// ItemsTotal counts processed items by result: success, failed, dropped.
	ItemsTotal *prometheus.CounterVec

	CleanupRunsTotal     prometheus.Counter
	CleanupRemovedTotal  *prometheus.CounterVec // kind: queue, tier
	LastCleanupTimestamp prometheus.Gauge
}

// NewWorkerMetrics registers the worker metrics with reg, or with the
// default registerer when reg is nil.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker", reg),

		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_queue_batches_total",
			Help: "Queue batches processed by outcome",
		}, []string{"outcome"}),

		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_queue_items_total",
			Help: "Queue items processed by result",
		}, []string{"result"}),

		CleanupRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_cleanup_runs_total",
			Help: "Scheduled cleanup runs",
		}),

		CleanupRemovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_cleanup_removed_total",
			Help: "Entries removed by scheduled cleanup",
		}, []string{"kind"}),

		LastCleanupTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "worker_cleanup_last_run_timestamp",
			Help: "Unix timestamp of the last cleanup run",
		}),
	}
}
