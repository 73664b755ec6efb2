package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/store"
)

// terminalWriteAttempts bounds retries of the terminal write when the
// store is unavailable. A job still processing afterwards is failed by the
// stuck job monitor or the next startup recovery.
const terminalWriteAttempts = 3

// errNoChange aborts a progress update that would not raise progress.
var errNoChange = errors.New("progress unchanged")

// handle processes one queue entry on slot s. processed is false when the
// job could not be claimed; abandoned is true when the enhancer was left
// running after a timeout.
func (p *Pool) handle(ctx context.Context, s *slot, entry queue.Entry) (processed, abandoned bool) {
	log := s.logger.With("job_id", entry.JobID)
	writeCtx := context.WithoutCancel(ctx)

	defer func() {
		if err := p.queue.Ack(writeCtx, entry); err != nil {
			log.Warn("failed to ack queue entry", "error", err)
		}
	}()

	job, err := p.store.Update(ctx, entry.JobID, func(j *domain.Job) error {
		return j.Start(s.id, p.now())
	})
	if err != nil {
		p.claimFailed(ctx, log, entry, err)
		return false, false
	}

	s.setState(SlotBusy, job.ID)
	log.Info("processing job", "queued_for", job.StartedAt.Sub(job.CreatedAt))
	p.emit(writeCtx, events.NewJobEvent(events.JobStarted, job))

	outputRef := filestore.OutputRef(job.ID, job.Filename)
	abandoned, runErr := p.execute(ctx, s, job, outputRef)

	if runErr != nil {
		jobErr := ClassifyFailure(runErr)
		log.Warn("job failed", "error_kind", jobErr.Kind, "error", runErr)
		p.finish(writeCtx, job.ID, "", &jobErr, outputRef)
	} else {
		p.finish(writeCtx, job.ID, outputRef, nil, outputRef)
	}
	return true, abandoned
}

// claimFailed logs why a job could not be claimed. Entries for jobs that
// are gone or already claimed are dropped; on store errors the entry is
// put back so the job is not lost.
func (p *Pool) claimFailed(ctx context.Context, log *slog.Logger, entry queue.Entry, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info("job no longer exists, skipping queue entry")
	case errors.Is(err, store.ErrConflict):
		log.Info("job already claimed or finished, skipping queue entry", "reason", err)
	case errors.Is(err, store.ErrCorruptRecord):
		log.Error("job record is corrupt, skipping queue entry", "error", err)
	default:
		log.Error("failed to claim job, requeueing", "error", err)
		if sleep(ctx, p.config.RetryBackoff) != nil {
			ctx = context.WithoutCancel(ctx)
		}
		if err := p.queue.Enqueue(ctx, queue.NewEntry(entry.JobID, entry.EnqueuedAt)); err != nil {
			log.Error("failed to requeue job after claim failure", "error", err)
		}
	}
}

// execute runs the enhancer for job outside any store lock. It enforces
// the job timeout and reports whether the enhancer call had to be
// abandoned.
func (p *Pool) execute(ctx context.Context, s *slot, job *domain.Job, outputRef string) (bool, error) {
	inPath, err := p.artifacts.Path(job.InputRef)
	if err != nil {
		return false, fmt.Errorf("resolve input artifact: %w", err)
	}
	outPath, err := p.artifacts.Path(outputRef)
	if err != nil {
		return false, fmt.Errorf("resolve output artifact: %w", err)
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if p.config.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	req := enhance.Request{
		JobID:      job.ID.String(),
		InputPath:  inPath,
		OutputPath: outPath,
		Params:     job.Params,
	}
	enh := s.enhancer
	progress := p.progressFunc(context.WithoutCancel(ctx), s.logger, job.ID)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- panicError(r)
			}
		}()
		done <- enh.Enhance(jobCtx, req, progress)
	}()

	select {
	case err := <-done:
		if err != nil {
			return false, p.interruption(ctx, jobCtx, err)
		}
		return false, nil
	case <-jobCtx.Done():
	}

	reason := p.interruption(ctx, jobCtx, jobCtx.Err())
	grace := time.NewTimer(p.config.AbandonGrace)
	defer grace.Stop()

	select {
	case <-done:
		return false, reason
	case <-grace.C:
	}

	s.logger.Warn("abandoning enhancer that ignored cancellation",
		"job_id", job.ID,
		"grace", p.config.AbandonGrace)

	p.abandoned.Add(1)
	go func() {
		defer p.abandoned.Done()
		<-done
		if err := enh.Close(); err != nil {
			s.logger.Warn("failed to close abandoned enhancer", "error", err)
		}
		if err := p.artifacts.Delete(context.Background(), outputRef); err != nil {
			s.logger.Warn("failed to delete output of abandoned job", "job_id", job.ID, "error", err)
		}
		s.logger.Info("abandoned enhancer returned", "job_id", job.ID)
	}()
	return true, reason
}

// interruption attributes err to the timeout or to shutdown when the job
// context ended, and returns err unchanged otherwise.
func (p *Pool) interruption(ctx, jobCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrWorkerShutdown, err)
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w of %s", ErrJobTimeout, p.config.JobTimeout)
	default:
		return err
	}
}

// progressFunc writes enhancer progress through the store. Progress only
// moves forward and 100 is reserved for the completed write.
func (p *Pool) progressFunc(ctx context.Context, log *slog.Logger, jobID uuid.UUID) enhance.ProgressFunc {
	return func(percent int) {
		percent = min(percent, 99)

		job, err := p.store.Update(ctx, jobID, func(j *domain.Job) error {
			changed, err := j.AdvanceProgress(percent, p.now())
			if err != nil {
				return err
			}
			if !changed {
				return errNoChange
			}
			return nil
		})
		switch {
		case err == nil:
			p.emit(ctx, events.NewJobEvent(events.JobProgress, job))
		case errors.Is(err, errNoChange):
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrConflict):
			log.Debug("progress update discarded", "job_id", jobID, "progress", percent, "reason", err)
		default:
			log.Warn("failed to write job progress", "job_id", jobID, "progress", percent, "error", err)
		}
	}
}

// finish is the single terminal write path. With jobErr nil the job
// completes with outputRef, otherwise it fails with jobErr. When the
// result cannot be recorded, or the job failed, producedRef is deleted,
// unless it is the output of a job that already completed. It reports
// whether the terminal state was written.
func (p *Pool) finish(ctx context.Context, jobID uuid.UUID, outputRef string, jobErr *domain.JobError, producedRef string) bool {
	log := p.logger.With("job_id", jobID)

	var (
		job *domain.Job
		err error

		// state seen by the last write attempt
		seenStatus    domain.JobStatus
		seenOutputRef string
	)
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		now := p.now()
		deadline := now.Add(p.config.RetentionWindow)
		job, err = p.store.Update(ctx, jobID, func(j *domain.Job) error {
			seenStatus, seenOutputRef = j.Status, j.OutputRef
			if jobErr != nil {
				return j.Fail(*jobErr, now, deadline)
			}
			return j.Complete(outputRef, now, deadline)
		})
		if err == nil || errors.Is(err, store.ErrNotFound) ||
			errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrCorruptRecord) {
			break
		}
		log.Warn("failed to write terminal job state", "attempt", attempt, "error", err)
		if attempt < terminalWriteAttempts {
			_ = sleep(ctx, p.config.RetryBackoff)
		}
	}

	liveOutput := errors.Is(err, store.ErrConflict) &&
		seenStatus == domain.JobStatusCompleted && seenOutputRef == producedRef
	if (jobErr != nil || err != nil) && producedRef != "" && !liveOutput {
		if delErr := p.artifacts.Delete(ctx, producedRef); delErr != nil {
			log.Warn("failed to delete discarded output", "error", delErr)
		}
	}

	switch {
	case err == nil && jobErr == nil:
		log.Info("job completed", "retention_deadline", job.RetentionDeadline)
		p.emit(ctx, events.NewJobEvent(events.JobCompleted, job))
	case err == nil:
		log.Info("job failed", "error_kind", jobErr.Kind, "retention_deadline", job.RetentionDeadline)
		p.emit(ctx, events.NewJobEvent(events.JobFailed, job))
	case errors.Is(err, store.ErrNotFound):
		log.Info("job deleted while processing, result discarded")
	case errors.Is(err, store.ErrConflict):
		log.Warn("job already in a terminal state, result discarded", "reason", err)
	default:
		log.Error("giving up on terminal job write", "error", err)
	}
	return err == nil
}
