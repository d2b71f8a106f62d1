// Package session serves the authenticated caller's session: who they are,
// how much of their lookup quota is left, and logout.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	hhttp "feedstate/internal/handler/http"
	"feedstate/internal/handler/http/middleware"
	"feedstate/internal/handler/http/respond"
	"feedstate/pkg/ratelimit"
)

// Quota reads a subject's counter without recording a call.
// *ratelimit.Limiter satisfies it.
type Quota interface {
	Rule(action string) (ratelimit.Rule, bool)
	RemainingAttempts(ctx context.Context, subject, action string, limit int, window time.Duration) int
	TimeToReset(ctx context.Context, subject, action string) int
}

// Logouter ends a credential's session.
// *credential.Authenticator satisfies it.
type Logouter interface {
	Logout(ctx context.Context, credential string) error
}

type quotaDTO struct {
	Action    string `json:"action"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetIn   int    `json:"reset_in"`
}

type sessionDTO struct {
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RateLimit *quotaDTO  `json:"rate_limit,omitempty"`
}

// GetHandler serves GET /v1/session.
type GetHandler struct {
	Quota Quota
}

func (h GetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	resp := sessionDTO{UserID: id.SubjectID}
	if !id.ExpiresAt.IsZero() {
		exp := id.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	if rule, ok := h.Quota.Rule(ratelimit.ActionSession); ok {
		subject := middleware.UserSubject(id.SubjectID)
		resp.RateLimit = &quotaDTO{
			Action:    ratelimit.ActionSession,
			Limit:     rule.Limit,
			Remaining: h.Quota.RemainingAttempts(r.Context(), subject, ratelimit.ActionSession, rule.Limit, rule.Window),
			ResetIn:   h.Quota.TimeToReset(r.Context(), subject, ratelimit.ActionSession),
		}
	}
	respond.JSON(w, http.StatusOK, resp)
}

// LogoutHandler serves POST /v1/session/logout. The cached validation is
// dropped even when revoking at the source fails.
type LogoutHandler struct {
	Sessions Logouter
	Logger   *slog.Logger
}

func (h LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer credential"})
		return
	}
	if err := h.Sessions.Logout(r.Context(), token); err != nil {
		respond.SafeError(w, http.StatusBadGateway,
			respond.NewAppError(http.StatusBadGateway, "logout could not be completed", err))
		return
	}
	if h.Logger != nil {
		h.Logger.Info("session logged out", slog.String("user_id", middleware.SubjectFromContext(r.Context())))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Register mounts the session routes. auth must populate the identity;
// limit returns the guard for an action.
func Register(mux *http.ServeMux, quota Quota, sessions Logouter, auth func(http.Handler) http.Handler, limit func(action string) func(http.Handler) http.Handler, logger *slog.Logger) {
	const (
		getRoute    = "GET /v1/session"
		logoutRoute = "POST /v1/session/logout"
	)
	mux.Handle(getRoute, hhttp.Instrument(getRoute,
		auth(limit(ratelimit.ActionSession)(GetHandler{Quota: quota}))))
	mux.Handle(logoutRoute, hhttp.Instrument(logoutRoute,
		auth(LogoutHandler{Sessions: sessions, Logger: logger})))
}
