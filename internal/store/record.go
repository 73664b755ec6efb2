package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/platform/logger"
)

// Record is the flat storage form of a job shared by all adapters.
// Params and Error hold JSON text; Error is empty when the job has none.
type Record struct {
	ID                string
	Status            string
	Progress          int
	InputRef          string
	OutputRef         string
	Filename          string
	SizeBytes         int64
	Params            string
	Error             string
	WorkerID          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	RetentionDeadline time.Time
	Version           int64
}

// EncodeJob validates job and flattens it into a Record. The error payload
// goes through domain.EncodeJobError so only known kinds reach storage.
func EncodeJob(job *domain.Job) (Record, error) {
	if err := job.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode params: %w", ErrInvalidEntity, err)
	}

	var jobErr string
	if job.Error != nil {
		data, err := domain.EncodeJobError(*job.Error)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %w", ErrInvalidEntity, err)
		}
		jobErr = string(data)
	}

	return Record{
		ID:                job.ID.String(),
		Status:            string(job.Status),
		Progress:          job.Progress,
		InputRef:          job.InputRef,
		OutputRef:         job.OutputRef,
		Filename:          job.Filename,
		SizeBytes:         job.SizeBytes,
		Params:            string(params),
		Error:             jobErr,
		WorkerID:          job.WorkerID,
		CreatedAt:         job.CreatedAt.UTC(),
		UpdatedAt:         job.UpdatedAt.UTC(),
		StartedAt:         utcPtr(job.StartedAt),
		FinishedAt:        utcPtr(job.FinishedAt),
		RetentionDeadline: job.RetentionDeadline.UTC(),
		Version:           job.Version,
	}, nil
}

// DecodeJob rebuilds a job from a Record. Any inconsistency, including an
// error payload that does not decode, returns an error wrapping
// ErrCorruptRecord.
func DecodeJob(r Record) (*domain.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", ErrCorruptRecord, err)
	}

	job := &domain.Job{
		ID:                id,
		Status:            domain.JobStatus(r.Status),
		Progress:          r.Progress,
		InputRef:          r.InputRef,
		OutputRef:         r.OutputRef,
		Filename:          r.Filename,
		SizeBytes:         r.SizeBytes,
		WorkerID:          r.WorkerID,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		StartedAt:         utcPtr(r.StartedAt),
		FinishedAt:        utcPtr(r.FinishedAt),
		RetentionDeadline: r.RetentionDeadline.UTC(),
		Version:           r.Version,
	}

	if r.Params != "" {
		if err := json.Unmarshal([]byte(r.Params), &job.Params); err != nil {
			return nil, fmt.Errorf("%w: params: %w", ErrCorruptRecord, err)
		}
	}

	if r.Error != "" {
		jobErr, err := domain.DecodeJobError([]byte(r.Error))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		job.Error = &jobErr
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return job, nil
}

// DecodeForRead is DecodeJob for read paths: an undecodable record is
// logged and returned as a placeholder so callers never see the failure.
// The warning goes to the request logger in ctx when there is one, and to
// log otherwise.
func DecodeForRead(ctx context.Context, log *slog.Logger, r Record) *domain.Job {
	job, err := DecodeJob(r)
	if err == nil {
		return job
	}

	if log == nil {
		log = slog.Default()
	}
	logger.FromContextOrDefault(ctx, log).Warn("degrading corrupt job record to placeholder",
		"job_id", r.ID,
		"stored_status", r.Status,
		"error", err)

	id, _ := uuid.Parse(r.ID)
	return domain.Placeholder(id, r.InputRef, r.OutputRef, r.CreatedAt.UTC(), r.RetentionDeadline.UTC())
}

// ApplyUpdate runs fn against a decoded job and re-validates the result.
// Domain transition errors map to ErrConflict. On success the version is
// incremented; the caller persists the job.
func ApplyUpdate(job *domain.Job, fn UpdateFunc) error {
	if job.Status == domain.JobStatusUnknown {
		return ErrCorruptRecord
	}

	id, version := job.ID, job.Version
	if err := fn(job); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}

	if job.ID != id {
		return fmt.Errorf("%w: id cannot change", ErrInvalidEntity)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	job.Version = version + 1
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
