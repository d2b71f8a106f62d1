package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedstate/internal/domain/entity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier("short")
	assert.Error(t, err)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	token, err := v.Sign("user-42", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.SubjectID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, 2*time.Second)
}

func TestJWTVerifier_Expired(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Sign("user-42", time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(context.Background(), token)
	assert.True(t, errors.Is(err, entity.ErrCredentialExpired))
}

func TestJWTVerifier_Invalid(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	other, err := NewJWTVerifier("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	foreign, err := other.Sign("user-42", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-42"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-jwt",
		"wrong secret":   foreign,
		"missing exp":    noExp,
		"missing sub":    noSub,
		"empty":          "",
		"none algorithm": "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTQyIn0.",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.True(t, errors.Is(err, entity.ErrInvalidCredential), "got %v", err)
		})
	}
}
