// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus is returned when a job status is not one of the
	// known lifecycle states.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidTransition is returned when a status change is not an edge of
	// queued -> processing -> {completed, failed}.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidProgress is returned when progress is outside 0..100.
	ErrInvalidProgress = errors.New("invalid job progress")

	// ErrInvalidStrength is returned when the enhancement strength is outside 0..10.
	ErrInvalidStrength = errors.New("invalid enhancement strength")

	// ErrInvalidJobError is returned when a structured job error is missing
	// its kind or carries a kind outside the closed set.
	ErrInvalidJobError = errors.New("invalid job error")

	// ErrEmptyInputRef is returned when a job is created without an input artifact.
	ErrEmptyInputRef = errors.New("job input reference cannot be empty")
)

// ValidationError describes a single invalid field. It wraps one of the
// sentinel errors above so callers can still use errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the wrapped sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}
