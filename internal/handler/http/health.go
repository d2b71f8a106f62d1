// Package http holds the API's HTTP plumbing: middleware, metrics and the
// health endpoint. Route handlers live in subpackages.
package http

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"feedstate/internal/handler/http/respond"
	"feedstate/internal/observability/metrics"
	"feedstate/pkg/tier"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
	Version   string                 `json:"version"`
}

// CheckStatus is the outcome of one health check.
type CheckStatus struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StateSource reports the active storage tier.
type StateSource interface {
	Select(ctx context.Context) tier.Tier
	Selected() tier.Kind
}

// PendingCounter reports the delivery queue depth.
type PendingCounter interface {
	Count(ctx context.Context) int
}

// HealthHandler serves GET /health. Only a failing database makes the
// service unhealthy: the state layer always has the file tier to fall back
// to and the queue degrades to zero.
type HealthHandler struct {
	DB      *sql.DB
	State   StateSource
	Queue   PendingCounter
	Version string
	Logger  *slog.Logger
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckStatus)
	healthy := true

	if h.DB != nil {
		c := h.checkDatabase(ctx)
		checks["database"] = c
		if c.Status == statusUnhealthy {
			healthy = false
		}
	}
	if h.State != nil {
		checks["state"] = h.checkState(ctx)
	}
	if h.Queue != nil {
		checks["queue"] = CheckStatus{
			Status:  statusHealthy,
			Details: map[string]any{"pending": h.Queue.Count(ctx)},
		}
	}

	status, code := statusHealthy, http.StatusOK
	if !healthy {
		status, code = statusUnhealthy, http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if err := h.DB.PingContext(ctx); err != nil {
		h.logger().Warn("health: database ping failed", slog.String("error", respond.SanitizeError(err)))
		return CheckStatus{Status: statusUnhealthy, Message: "database unreachable"}
	}

	stats := h.DB.Stats()
	metrics.RecordDBStats(stats)
	details := map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
	}
	if stats.MaxOpenConnections > 0 {
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
		details["utilization_percent"] = utilization
		if utilization >= 80 {
			return CheckStatus{Status: statusDegraded, Message: "connection pool utilization above 80%", Details: details}
		}
	}
	return CheckStatus{Status: statusHealthy, Details: details}
}

func (h *HealthHandler) checkState(ctx context.Context) CheckStatus {
	t := h.State.Select(ctx)
	details := map[string]any{"driver": h.State.Selected().String()}

	reporter, ok := t.(tier.StatsReporter)
	if !ok {
		return CheckStatus{Status: statusHealthy, Details: details}
	}
	stats, err := reporter.Stats(ctx)
	if err != nil {
		return CheckStatus{Status: statusDegraded, Message: "stats unavailable", Details: details}
	}
	metrics.RecordTierStats(stats)
	details["entries"] = stats.Entries
	if t.Kind() == tier.KindFile {
		// file tier is the last resort and single-node only
		return CheckStatus{Status: statusDegraded, Message: "running on file tier", Details: details}
	}
	return CheckStatus{Status: statusHealthy, Details: details}
}

func (h *HealthHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
