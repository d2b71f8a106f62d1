// Package security holds credential verifiers that need no database.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"feedstate/internal/domain/entity"
	"feedstate/internal/repository"
)

// minSecretLength rejects secrets too short for HS256.
const minSecretLength = 32

// JWTVerifier verifies HS256 bearer tokens and returns the "sub" claim.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

var _ repository.CredentialVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength)
	}
	return &JWTVerifier{secret: []byte(secret), now: time.Now}, nil
}

// Verify parses and validates token. Expired tokens return
// entity.ErrCredentialExpired; any other failure returns
// entity.ErrInvalidCredential.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*entity.Identity, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, entity.ErrCredentialExpired
	}
	if err != nil || !tok.Valid {
		return nil, entity.ErrInvalidCredential
	}
	if claims.Subject == "" {
		return nil, entity.ErrInvalidCredential
	}
	return &entity.Identity{SubjectID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Sign issues a token for subject valid for ttl. It is used by tests and
// local tooling; production tokens are issued elsewhere.
func (v *JWTVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
