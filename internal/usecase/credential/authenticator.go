package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"feedstate/internal/domain/entity"
	"feedstate/internal/repository"
)

// verifyTimeout bounds a shared verification. It runs detached from the
// context of the caller that started it, since other callers may be waiting.
const verifyTimeout = 5 * time.Second

// Authenticator resolves bearer credentials through the cache, falling back
// to the verifier on a miss. Concurrent misses for the same credential share
// one verification.
type Authenticator struct {
	cache    *ValidationCache
	verifier repository.CredentialVerifier
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cache *ValidationCache, verifier repository.CredentialVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		cache:    cache,
		verifier: verifier,
		now:      cache.now,
		logger:   logger,
	}
}

// Authenticate returns the identity behind credential.
//
// A cached entry whose credential has since expired is invalidated and
// reported as entity.ErrCredentialExpired without asking the verifier.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*entity.Identity, error) {
	if credential == "" {
		return nil, entity.ErrInvalidCredential
	}

	if cached, ok := a.cache.Get(ctx, credential); ok {
		if cached.Expired(a.now()) {
			a.cache.Invalidate(ctx, credential)
			return nil, entity.ErrCredentialExpired
		}
		return &entity.Identity{SubjectID: cached.SubjectID, ExpiresAt: cached.ExpiresAt}, nil
	}

	ch := a.group.DoChan(a.cache.Key(credential), func() (interface{}, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
		defer cancel()
		id, err := a.verifier.Verify(vctx, credential)
		switch {
		case err == nil:
			recordVerification("valid")
			a.cache.Set(vctx, credential, id.SubjectID, id.ExpiresAt)
			return id, nil
		case errors.Is(err, entity.ErrCredentialExpired):
			recordVerification("expired")
		case errors.Is(err, entity.ErrInvalidCredential):
			recordVerification("invalid")
		default:
			recordVerification("error")
		}
		return nil, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entity.Identity), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout drops credential from the cache and revokes it at the source when
// the verifier supports revocation.
func (a *Authenticator) Logout(ctx context.Context, credential string) error {
	a.cache.Invalidate(ctx, credential)

	revoker, ok := a.verifier.(repository.CredentialRevoker)
	if !ok {
		return nil
	}
	if err := revoker.Revoke(ctx, credential); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}
