package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"feedstate/internal/domain/entity"
	"feedstate/internal/repository"
)

// SessionRepo verifies bearer tokens against user_sessions. Only the SHA-256
// of a token is stored or queried.
type SessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db, now: time.Now}
}

var _ repository.SessionRepository = (*SessionRepo)(nil)

func (repo *SessionRepo) Verify(ctx context.Context, token string) (*entity.Identity, error) {
	const query = `
SELECT user_id, expires_at, is_active
FROM user_sessions
WHERE token_hash = $1
LIMIT 1`
	var (
		id     entity.Identity
		active bool
	)
	err := repo.db.QueryRowContext(ctx, query, hashToken(token)).Scan(&id.SubjectID, &id.ExpiresAt, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}
	if !active {
		return nil, entity.ErrInvalidCredential
	}
	if repo.now().After(id.ExpiresAt) {
		return nil, entity.ErrCredentialExpired
	}
	return &id, nil
}

func (repo *SessionRepo) Revoke(ctx context.Context, token string) error {
	const query = `UPDATE user_sessions SET is_active = FALSE WHERE token_hash = $1`
	if _, err := repo.db.ExecContext(ctx, query, hashToken(token)); err != nil {
		return fmt.Errorf("Revoke: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
