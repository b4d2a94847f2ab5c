package core

import (
	"errors"
	"fmt"
)

// Sentinel errors crossing the orchestrator boundary. Everything else is
// absorbed and converted into a degraded assistant reply (see agent package).
var (
	// ErrUnauthorized indicates a missing or invalid caller credential.
	ErrUnauthorized = errors.New("not authenticated")

	// ErrNotFound indicates the conversation does not exist or does not belong
	// to the caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("conversation not found or access denied")
)

// ValidationError reports rejected caller input (empty message, out-of-range
// pagination). It always fails the request before any persistence occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a storage fault of the peer-reset / disconnect variety
// that is worth a single retry. Application-level failures must never be
// wrapped in it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage fault during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable storage fault.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}
