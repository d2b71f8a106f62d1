package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed is matched by every *ValidationError.
	ErrValidationFailed = errors.New("validation failed")

	// ErrInvalidCredential means the credential is unknown or revoked.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrCredentialExpired means the credential was valid but has expired.
	ErrCredentialExpired = errors.New("credential expired")
)

// ValidationError rejects one field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
