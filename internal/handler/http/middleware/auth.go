package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"feedstate/internal/domain/entity"
	"feedstate/internal/handler/http/respond"
)

// Authenticator resolves a bearer credential to an identity.
// *credential.Authenticator satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*entity.Identity, error)
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *entity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*entity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*entity.Identity)
	return id, ok && id != nil
}

// SubjectFromContext returns the authenticated subject id or "".
func SubjectFromContext(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.SubjectID
	}
	return ""
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth rejects requests without a valid bearer credential with 401.
// Verifier outages answer 503 so clients retry instead of re-authenticating.
func RequireAuth(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer credential")
				return
			}

			id, err := auth.Authenticate(r.Context(), token)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			case errors.Is(err, entity.ErrCredentialExpired):
				unauthorized(w, "credential expired")
			case errors.Is(err, entity.ErrInvalidCredential):
				unauthorized(w, "invalid credential")
			default:
				logger.Error("credential verification failed",
					slog.String("path", r.URL.Path),
					slog.String("error", respond.SanitizeError(err)))
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authentication unavailable"})
			}
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="feedstate"`)
	respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": msg})
}
