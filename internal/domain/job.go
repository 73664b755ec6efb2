package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

// Possible job status values
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"

	// JobStatusUnknown is a read-side placeholder for records that could not
	// be decoded. It is never written to a store.
	JobStatusUnknown JobStatus = "unknown"
)

// allowedTransitions lists every legal edge; terminal states have none.
var allowedTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusQueued: {
		JobStatusProcessing: {},
	},
	JobStatusProcessing: {
		JobStatusCompleted: {},
		JobStatusFailed:    {},
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobStatus) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// IsValidJobStatus reports whether status may be persisted.
func IsValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether status is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one submitted audio file and its processing lifecycle.
type Job struct {
	ID     uuid.UUID `json:"id"`
	Status JobStatus `json:"status"`

	// Progress is 0..100 and never decreases while processing.
	Progress int `json:"progress"`

	// InputRef and OutputRef are opaque handles owned by the file store.
	InputRef  string `json:"input_ref"`
	OutputRef string `json:"output_ref,omitempty"`

	// Filename and SizeBytes describe the original upload.
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`

	Params EnhanceParams `json:"params"`

	// Error is set if and only if Status is failed.
	Error *JobError `json:"error,omitempty"`

	// WorkerID names the slot that owns the job while processing.
	WorkerID string `json:"worker_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// RetentionDeadline is when the record and its artifacts must be gone.
	// At creation it is the absolute max-age bound; terminal transitions
	// replace it with now + retention window.
	RetentionDeadline time.Time `json:"retention_deadline"`

	// Version increments on every successful update.
	Version int64 `json:"version"`
}

// NewJob creates a queued job for an already stored input artifact.
func NewJob(inputRef, filename string, sizeBytes int64, params EnhanceParams, now time.Time, maxAge time.Duration) (*Job, error) {
	now = now.UTC()
	job := &Job{
		ID:                uuid.New(),
		Status:            JobStatusQueued,
		Progress:          0,
		InputRef:          inputRef,
		Filename:          filename,
		SizeBytes:         sizeBytes,
		Params:            params,
		CreatedAt:         now,
		UpdatedAt:         now,
		RetentionDeadline: now.Add(maxAge),
		Version:           1,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the structural invariants of a job.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if j.InputRef == "" {
		return ErrEmptyInputRef
	}
	if !IsValidJobStatus(j.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidProgress, j.Progress)
	}
	if (j.Status == JobStatusFailed) != (j.Error != nil) {
		return fmt.Errorf("%w: error must be set exactly when failed", ErrInvalidJobError)
	}
	if j.Error != nil {
		if err := j.Error.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsTerminal reports whether the job has completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// transition moves the job to status if the edge is legal.
func (j *Job) transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now.UTC()
	return nil
}

// Start claims a queued job for workerID.
func (j *Job) Start(workerID string, now time.Time) error {
	if err := j.transition(JobStatusProcessing, now); err != nil {
		return err
	}
	started := now.UTC()
	j.StartedAt = &started
	j.WorkerID = workerID
	return nil
}

// AdvanceProgress raises progress while processing. Lower values are
// ignored so concurrent or reordered reports cannot move progress back.
// It reports whether the stored value changed.
func (j *Job) AdvanceProgress(progress int, now time.Time) (bool, error) {
	if progress < 0 || progress > 100 {
		return false, fmt.Errorf("%w: %d", ErrInvalidProgress, progress)
	}
	if j.Status != JobStatusProcessing {
		return false, fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.Status)
	}
	if progress <= j.Progress {
		return false, nil
	}
	j.Progress = progress
	j.UpdatedAt = now.UTC()
	return true, nil
}

// Complete marks a processing job as completed with its output artifact.
func (j *Job) Complete(outputRef string, now, deadline time.Time) error {
	if err := j.transition(JobStatusCompleted, now); err != nil {
		return err
	}
	finished := now.UTC()
	j.OutputRef = outputRef
	j.Progress = 100
	j.FinishedAt = &finished
	j.RetentionDeadline = deadline.UTC()
	return nil
}

// Fail marks a processing job as failed with a structured error.
func (j *Job) Fail(jobErr JobError, now, deadline time.Time) error {
	if err := jobErr.Validate(); err != nil {
		return err
	}
	if err := j.transition(JobStatusFailed, now); err != nil {
		return err
	}
	finished := now.UTC()
	j.Error = &jobErr
	j.FinishedAt = &finished
	j.RetentionDeadline = deadline.UTC()
	return nil
}

// Expired reports whether the retention deadline has passed at now.
func (j *Job) Expired(now time.Time) bool {
	return !j.RetentionDeadline.After(now)
}

// TimeUntilDeletion returns the remaining retention time, never negative.
func (j *Job) TimeUntilDeletion(now time.Time) time.Duration {
	d := j.RetentionDeadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a deep copy safe to hand out of a store.
func (j *Job) Clone() *Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Params.Strength != nil {
		s := *j.Params.Strength
		c.Params.Strength = &s
	}
	return &c
}

// Placeholder returns the degraded view of an undecodable record: status
// unknown and no error. Only the fields that were read safely are kept;
// the artifact refs survive so retention can still remove the files.
func Placeholder(id uuid.UUID, inputRef, outputRef string, createdAt, retentionDeadline time.Time) *Job {
	return &Job{
		ID:                id,
		Status:            JobStatusUnknown,
		InputRef:          inputRef,
		OutputRef:         outputRef,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
		RetentionDeadline: retentionDeadline,
	}
}
