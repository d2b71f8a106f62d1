package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func getHealth(t *testing.T, h http.Handler, path string) (int, healthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, resp
}

func TestHealthServer_Liveness(t *testing.T) {
	h := NewHealthServer(":0", discardLogger)

	code, resp := getHealth(t, h.Handler(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
}

func TestHealthServer_Readiness(t *testing.T) {
	h := NewHealthServer(":0", discardLogger)

	code, resp := getHealth(t, h.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", resp.Status)

	h.SetReady(true)
	code, resp = getHealth(t, h.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Checks)

	h.SetReady(false)
	code, _ = getHealth(t, h.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHealthServer_ReadinessChecks(t *testing.T) {
	h := NewHealthServer(":0", discardLogger)
	h.SetReady(true)
	h.AddCheck("queue", func(context.Context) error { return nil })

	code, resp := getHealth(t, h.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"queue": "ok"}, resp.Checks)

	h.AddCheck("database", func(context.Context) error { return errors.New("connection refused") })
	code, resp = getHealth(t, h.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["database"])
	assert.Equal(t, "ok", resp.Checks["queue"])
}

func TestHealthServer_StartStopsOnCancel(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", discardLogger)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}

func TestServe_ReturnsListenError(t *testing.T) {
	srv := &http.Server{Addr: "bad-addr:-1"}
	err := Serve(context.Background(), srv, "broken", discardLogger)
	assert.Error(t, err)
}
