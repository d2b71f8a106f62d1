// Package metrics holds process-wide gauges that do not belong to a single
// component: the selected storage tier and database pool usage.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"feedstate/pkg/tier"
)

var (
	// TierSelected is 1 for the storage tier chosen by the selector, 0 for the others.
	TierSelected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedstate_tier_selected",
			Help: "Storage tier selected for ephemeral state (1 = selected)",
		},
		[]string{"tier"},
	)

	// TierEntries is the number of entries reported by the selected tier.
	TierEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedstate_tier_entries",
			Help: "Entries held by the selected storage tier",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Idle database connections",
		},
	)

	DBWaitCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_wait_count",
			Help: "Total number of connections waited for",
		},
	)
)

var tierKinds = []tier.Kind{tier.KindMemory, tier.KindRedis, tier.KindFile}

// SetTierSelected marks kind as the active tier.
func SetTierSelected(kind tier.Kind) {
	for _, k := range tierKinds {
		v := 0.0
		if k == kind {
			v = 1
		}
		TierSelected.WithLabelValues(k.String()).Set(v)
	}
}

// RecordTierStats publishes the entry count of a tier that reports stats.
func RecordTierStats(stats tier.Stats) {
	TierEntries.Set(float64(stats.Entries))
}

// RecordDBStats publishes connection pool statistics.
func RecordDBStats(stats sql.DBStats) {
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
	DBWaitCount.Set(float64(stats.WaitCount))
}
