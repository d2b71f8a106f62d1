// Command api serves the session and notification endpoints.
//
// Requests are authenticated through the credential validation cache and
// guarded by fixed-window rate limits; notifications are only queued here
// and delivered by cmd/worker.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedstate/internal/bootstrap"
	hhttp "feedstate/internal/handler/http"
	"feedstate/internal/handler/http/middleware"
	"feedstate/internal/handler/http/notification"
	"feedstate/internal/handler/http/requestid"
	"feedstate/internal/handler/http/session"
	pgRepo "feedstate/internal/infra/adapter/persistence/postgres"
	"feedstate/internal/infra/security"
	"feedstate/internal/observability/logging"
	"feedstate/internal/observability/tracing"
	"feedstate/internal/repository"
	"feedstate/internal/usecase/credential"
	"feedstate/pkg/config"
	"feedstate/pkg/ratelimit"
)

const maxBodyBytes = 1 << 20

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(1)
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Server-side sessions live in postgres; JWT verification does not need it.
	verifierKind := config.GetEnvString("AUTH_VERIFIER", "session")
	database, err := bootstrap.OpenDatabase(ctx, logger, verifierKind == "session")
	if err != nil {
		return err
	}
	if database != nil {
		defer func() { _ = database.Close() }()
	} else if bootstrap.QueueBackend() == bootstrap.BackendPostgres {
		logger.Warn("no database configured, notifications use the file queue")
	}

	selector := bootstrap.NewSelector(logger)
	defer func() { _ = selector.Close() }()

	verifier, err := newVerifier(verifierKind, database)
	if err != nil {
		return err
	}
	cache := credential.NewValidationCache(selector, credential.CacheConfig{
		TTL:    config.GetEnvDuration("TOKEN_CACHE_TTL", 5*time.Minute),
		Logger: logger,
	})
	authenticator := credential.NewAuthenticator(cache, verifier, logger)

	rlCfg, _ := config.LoadRateLimitConfig()
	rules, err := ratelimit.LoadRules(rlCfg.RulesFile)
	if err != nil {
		logger.Warn("rate limit rules file rejected, using defaults", slog.Any("error", err))
		rules = ratelimit.DefaultRules()
	}
	rlMetrics := ratelimit.NewPrometheusMetrics()
	limiter := ratelimit.NewLimiter(selector, ratelimit.LimiterConfig{
		KeyPrefix: rlCfg.KeyPrefix,
		Rules:     rules,
		Metrics:   rlMetrics,
		Logger:    logger,
	})

	trusted, err := middleware.ParseTrustedProxies(config.GetEnvStringList("RATELIMIT_TRUSTED_PROXIES", nil))
	if err != nil {
		logger.Warn("ignoring RATELIMIT_TRUSTED_PROXIES", slog.Any("error", err))
		trusted = nil
	}
	clientIP := middleware.NewClientIP(trusted)

	queue, err := bootstrap.OpenQueue(database, logger)
	if err != nil {
		return err
	}

	requireAuth := middleware.RequireAuth(authenticator, logger)
	limit := func(action string) func(http.Handler) http.Handler {
		if !rlCfg.Enabled {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RateLimit(limiter, action, clientIP, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", &hhttp.HealthHandler{
		DB:      database,
		State:   selector,
		Queue:   queue,
		Version: config.GetEnvString("APP_VERSION", "dev"),
		Logger:  logger,
	})
	mux.Handle("GET /metrics", hhttp.MetricsHandler(rlMetrics.Registry()))
	session.Register(mux, limiter, authenticator, requireAuth, limit, logger)
	notification.Register(mux, queue, requireAuth, limit)

	handler := hhttp.Chain(mux,
		requestid.Middleware,
		tracing.Middleware,
		hhttp.Logging(logger),
		hhttp.Recover(logger),
		hhttp.LimitRequestBody(maxBodyBytes),
	)

	addr := config.GetEnvString("HTTP_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("auth_verifier", verifierKind),
			slog.Bool("rate_limit_enabled", rlCfg.Enabled))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newVerifier returns the source of truth for bearer credentials: signed
// JWTs when AUTH_VERIFIER=jwt, server-side sessions in postgres otherwise.
func newVerifier(kind string, database *sql.DB) (repository.CredentialVerifier, error) {
	switch kind {
	case "jwt":
		return security.NewJWTVerifier(os.Getenv("JWT_SECRET"))
	case "session":
		return pgRepo.NewSessionRepo(database), nil
	default:
		return nil, fmt.Errorf("unknown AUTH_VERIFIER %q: want session or jwt", kind)
	}
}
