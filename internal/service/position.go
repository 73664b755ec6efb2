package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/store"
)

// SecondsPerJob is the rough per-job processing estimate used for the
// wait hint returned on submission.
const SecondsPerJob = 30

// PositionEstimator answers how many queued jobs are ahead of a job.
type PositionEstimator struct {
	store store.JobStore
}

// NewPositionEstimator creates a PositionEstimator over jobStore.
func NewPositionEstimator(jobStore store.JobStore) *PositionEstimator {
	return &PositionEstimator{store: jobStore}
}

// Position returns the number of queued jobs created strictly before id.
// A job that is not queued, or does not exist, has position 0.
func (e *PositionEstimator) Position(ctx context.Context, id uuid.UUID) (int, error) {
	n, err := e.store.QueuePosition(ctx, id)
	if err != nil {
		return 0, err
	}
	return max(n, 0), nil
}

// Ahead returns how many jobs will be served before job: the queued jobs
// created earlier plus the jobs currently processing. It is 0 for a job
// that is not queued. The two counts are separate reads and may drift
// under churn.
func (e *PositionEstimator) Ahead(ctx context.Context, job *domain.Job) (int, error) {
	if job.Status != domain.JobStatusQueued {
		return 0, nil
	}
	position, err := e.Position(ctx, job.ID)
	if err != nil {
		return 0, err
	}
	counts, err := e.store.Counts(ctx)
	if err != nil {
		return position, err
	}
	return position + counts.Processing, nil
}

// EstimatedWait converts a queue position into a wait hint.
func EstimatedWait(position int) time.Duration {
	return time.Duration(max(position, 0)*SecondsPerJob) * time.Second
}
