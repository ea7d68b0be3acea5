// internal/core/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrDuplicateName is returned when saving an aisle whose name collides,
// case-insensitively, with another aisle of the same owner.
var ErrDuplicateName = errors.New("name already in use")

// ErrAisleNotEmpty is returned when deleting an aisle that still has
// medicines assigned to it.
var ErrAisleNotEmpty = errors.New("aisle still contains medicines")

// ValidationError represents a local validation failure. It is always
// raised synchronously, before any store call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransactionAbortError indicates that an atomic write unit failed as a
// whole: neither the entity mutation nor its audit entry persisted.
type TransactionAbortError struct {
	Op  string
	Err error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction aborted during %s: %v", e.Op, e.Err)
}

func (e *TransactionAbortError) Unwrap() error { return e.Err }

// TransientError wraps a connectivity-level failure. Read paths may mask
// it by falling back to the offline snapshot; write paths always surface it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
