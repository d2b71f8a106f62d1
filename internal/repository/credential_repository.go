package repository

import (
	"context"

	"feedstate/internal/domain/entity"
)

// CredentialVerifier is the source of truth for bearer credentials.
// Verify returns entity.ErrInvalidCredential for unknown or revoked
// credentials and entity.ErrCredentialExpired for expired ones.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (*entity.Identity, error)
}

// CredentialRevoker is implemented by verifiers that can revoke a credential
// at the source, such as server-side sessions.
type CredentialRevoker interface {
	Revoke(ctx context.Context, credential string) error
}

// SessionRepository verifies and revokes server-side sessions.
type SessionRepository interface {
	CredentialVerifier
	CredentialRevoker
}
