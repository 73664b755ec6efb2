package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/queue"
)

// inflightRestorer is implemented by queues that keep delivered but
// unacknowledged entries, such as the Redis queue.
type inflightRestorer interface {
	RestoreInflight(ctx context.Context) (int, error)
}

// Recover brings the store and the queue back in line after a restart.
// Jobs left processing by a previous process are failed with kind
// InfrastructureError, since processing -> queued is not a legal edge.
// Every queued job is enqueued again in creation order; duplicate entries
// are harmless because a second claim fails.
func (p *Pool) Recover(ctx context.Context) error {
	if r, ok := p.queue.(inflightRestorer); ok {
		if _, err := r.RestoreInflight(ctx); err != nil {
			return err
		}
	}

	queued, err := p.store.ListByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to get queued jobs: %w", err)
	}

	processing, err := p.store.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to get processing jobs: %w", err)
	}

	p.logger.Info("recovering unfinished jobs",
		"queued_count", len(queued),
		"processing_count", len(processing))

	lost := domain.NewJobError(domain.ErrorKindInfrastructure, "worker lost during restart")
	for _, job := range processing {
		p.finish(ctx, job.ID, "", &lost, filestore.OutputRef(job.ID, job.Filename))
	}

	for _, job := range queued {
		if err := p.queue.Enqueue(ctx, queue.NewEntry(job.ID, job.CreatedAt)); err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				// Left queued; the retention max age reaps it.
				p.logger.Error("failed to requeue job, queue is full", "job_id", job.ID)
				continue
			}
			return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
	}
	return nil
}

// stuckJobMonitor periodically force-fails jobs that have been processing
// for longer than StuckJobAge.
func (p *Pool) stuckJobMonitor(ctx context.Context) {
	ticker := time.NewTicker(p.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.FailStuckJobs(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to check for stuck jobs", "error", err)
			}
		}
	}
}

// FailStuckJobs fails every job processing for longer than StuckJobAge
// with kind Timeout and returns how many were failed.
func (p *Pool) FailStuckJobs(ctx context.Context) (int, error) {
	if p.config.StuckJobAge <= 0 {
		return 0, nil
	}

	processing, err := p.store.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		return 0, err
	}

	now := p.now()
	failed := 0
	for _, job := range processing {
		if job.StartedAt == nil {
			continue
		}
		age := now.Sub(*job.StartedAt)
		if age <= p.config.StuckJobAge {
			continue
		}

		p.logger.Warn("failing stuck job",
			"job_id", job.ID,
			"worker_id", job.WorkerID,
			"processing_for", age.Round(time.Second))

		jobErr := domain.NewJobError(domain.ErrorKindTimeout,
			fmt.Sprintf("abandoned after %s in processing", age.Round(time.Second)))
		if p.finish(ctx, job.ID, "", &jobErr, filestore.OutputRef(job.ID, job.Filename)) {
			failed++
		}
	}
	return failed, nil
}
