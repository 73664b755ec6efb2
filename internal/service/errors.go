package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in *JobServiceError
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrJobNotFound indicates no job exists for the requested id.
	// API layer should map this to HTTP 404 Not Found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExpired indicates the job passed its retention deadline and is
	// about to be swept, or its artifact is already gone.
	// API layer should map this to HTTP 404 Not Found.
	ErrJobExpired = errors.New("job expired")

	// ErrJobNotCompleted indicates a result was requested before the job completed.
	// API layer should map this to HTTP 409 Conflict.
	ErrJobNotCompleted = errors.New("job not completed")

	// ErrServiceBusy indicates the queue cannot accept more jobs right now.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrServiceBusy = errors.New("service busy")
)

// JobServiceError wraps unexpected errors from the job service.
type JobServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for JobServiceError.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a new JobServiceError.
// It returns known sentinel errors directly without wrapping.
func NewJobServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	// Check for service-defined sentinel errors
	for _, sentinel := range []error{ErrJobNotFound, ErrJobExpired, ErrJobNotCompleted, ErrServiceBusy} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	// Check for lower-level sentinel errors that map to service-level ones
	if errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
		return fmt.Errorf("%w: %w", ErrServiceBusy, err)
	}

	// If not a sentinel to be returned directly, wrap it
	return &JobServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
