// Package common defines shared constants and sentinel errors used across
// the studykeeper packages. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Write-time errors. ErrConcurrentModification means a write presented
	// a stale version; the caller must re-read and decide whether to retry.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrAlreadyExists          = errors.New("already exists")
	ErrConstraintViolation    = errors.New("constraint violation")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// AlreadyExistsError reports a uniqueness collision attributed to a specific
// identifying field, together with the id of the account that already holds
// the value. It matches ErrAlreadyExists under errors.Is.
type AlreadyExistsError struct {
	Field      string
	ExistingID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s has already been used by another account", e.Field)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// ConstraintViolationError is a store constraint failure that could not be
// attributed to a known field. Message must be safe to surface; the raw
// driver message is never included.
type ConstraintViolationError struct {
	Message string
}

func (e *ConstraintViolationError) Error() string {
	return e.Message
}

func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}
