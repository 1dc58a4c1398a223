package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrValidation        = errors.New("validation error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidFilter     = errors.New("invalid filter expression")
	ErrInvalidExpand     = errors.New("invalid expand path")
	ErrBrokenReference   = errors.New("broken reference")
)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

// PeerError is returned when a remote server cannot be reached (Status == 0)
// or answers with a non-2xx status.
type PeerError struct {
	URL    string
	Status int
	Err    error
}

func (e *PeerError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("peer %s unreachable: %v", e.URL, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("peer %s rejected request: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("peer %s rejected request: status %d", e.URL, e.Status)
}

func (e *PeerError) Unwrap() error { return e.Err }

// Unreachable reports whether the peer never produced an HTTP response.
func (e *PeerError) Unreachable() bool { return e.Status == 0 }
