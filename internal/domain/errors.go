package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
// Repeated delivery of the same external id surfaces as this error.
var ErrDuplicate = errors.New("duplicate key")

// ValidationError reports a malformed or incomplete payload. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError wraps a failed storage call. Transient by default.
type PersistenceError struct {
	Op       string // "insert" | "update" | "query"
	Table    string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("persistence: %s %s failed after %d attempts: %v", e.Op, e.Table, e.Attempts, e.Err)
	}
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotFoundError reports an update whose match filter selected no rows.
type NotFoundError struct {
	Table string
	Match map[string]any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s matching %v", e.Table, e.Match)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPersistence reports whether err is or wraps a *PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
