package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
)

// UpdateFunc mutates a job in place while the store holds the per-id lock.
// Returning an error aborts the update and leaves the record unchanged.
// It must not block: no I/O and no calls back into the store.
type UpdateFunc func(job *domain.Job) error

// DeleteFunc runs while the store holds the per-id lock, just before the
// record is removed. It is where artifacts are deleted. Returning an error
// keeps the record so a later attempt can retry.
type DeleteFunc func(ctx context.Context, job *domain.Job) error

// JobCounts is a snapshot of job counts by status.
type JobCounts struct {
	Queued     int
	Processing int
	Completed  int
	Failed     int
	// Unknown counts records whose status column could not be decoded.
	Unknown int
}

// Total returns the number of records in the store.
func (c JobCounts) Total() int {
	return c.Queued + c.Processing + c.Completed + c.Failed + c.Unknown
}

// JobStore defines the operations for job persistence.
type JobStore interface {
	// Create stores a new job. Returns ErrInvalidEntity if the job fails
	// validation and ErrDuplicate if the id already exists.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns a copy of the job. Returns ErrNotFound if no record
	// exists. A record that cannot be decoded is returned as a
	// domain.Placeholder with a nil error.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Update loads the job under the per-id lock, applies fn and persists
	// the result with Version incremented. Returns ErrNotFound if the
	// record is gone, ErrConflict if fn attempted an illegal transition and
	// ErrCorruptRecord if the stored record cannot be decoded.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*domain.Job, error)

	// Delete removes the record under the per-id lock after fn succeeds.
	// fn may be nil. Returns ErrNotFound if no record exists.
	Delete(ctx context.Context, id uuid.UUID, fn DeleteFunc) error

	// QueuePosition counts queued jobs created strictly before the given
	// job, computed in a single read. A job that is not queued, or does not
	// exist, has position 0.
	QueuePosition(ctx context.Context, id uuid.UUID) (int, error)

	// Counts returns the number of jobs per status.
	Counts(ctx context.Context) (JobCounts, error)

	// ListByStatus returns jobs with the given status ordered by creation.
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error)

	// ListExpired returns up to limit jobs whose retention deadline is at
	// or before now, regardless of status. Undecodable records are
	// included as placeholders.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
