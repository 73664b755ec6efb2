package store

import (
	"errors"
	"fmt"
)

// Sentinels shared by every JobStore implementation. Adapters wrap them
// with context; callers match with errors.Is.
var (
	// ErrNotFound means no record exists for the id, including one deleted
	// by the sweeper.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicate is returned when creating a job whose id already exists.
	ErrDuplicate = errors.New("job already exists")

	// ErrInvalidEntity wraps a domain validation failure found on write.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrConflict is returned when an update would break the job state
	// machine, e.g. claiming a job another worker already owns.
	ErrConflict = errors.New("conflicting update")

	// ErrCorruptRecord is returned by writes when the stored record cannot
	// be decoded. Reads degrade to a placeholder instead.
	ErrCorruptRecord = errors.New("corrupt job record")

	// ErrTransactionFailed wraps begin, commit and rollback failures.
	ErrTransactionFailed = errors.New("transaction failed")
)

// IsNotFoundError reports whether err wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError reports whether err wraps ErrConflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// StoreError records which operation on which job failed.
type StoreError struct {
	Operation string // The operation that failed (e.g., "create", "update")
	JobID     string // The job involved, if any
	Message   string // Error message
	Err       error  // Original error
}

func (e *StoreError) Error() string {
	subject := "job"
	if e.JobID != "" {
		subject = "job " + e.JobID
	}
	if e.Err != nil {
		return fmt.Sprintf("%s on %s failed: %s: %v", e.Operation, subject, e.Message, e.Err)
	}
	return fmt.Sprintf("%s on %s failed: %s", e.Operation, subject, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError. jobID may be empty for operations
// that span jobs, such as listing.
func NewStoreError(operation, jobID, message string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		JobID:     jobID,
		Message:   message,
		Err:       err,
	}
}
