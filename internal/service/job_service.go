package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/config"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/store"
	"github.com/phrazzld/openvoice/internal/task"
)

// Artifacts stores and serves job files.
type Artifacts interface {
	// Save writes r to ref, reading at most limit bytes.
	Save(ctx context.Context, ref string, r io.Reader, limit int64) (int64, error)

	// Open opens the artifact for reading. The caller closes the file.
	Open(ref string) (*os.File, fs.FileInfo, error)

	// Delete removes artifacts; missing ones are not an error.
	Delete(ctx context.Context, refs ...string) error
}

// WorkerReporter exposes the state of the worker slots.
type WorkerReporter interface {
	Slots() []task.SlotStatus
}

// Config holds the settings the job service needs.
type Config struct {
	// RetentionWindow is how long terminal jobs are kept.
	RetentionWindow time.Duration

	// MaxAge bounds the lifetime of a job that never finishes.
	MaxAge time.Duration

	// MaxLongPoll caps how long Status may block.
	MaxLongPoll time.Duration

	// DefaultParams apply when a submission carries no strength.
	DefaultParams domain.EnhanceParams
}

// ConfigFrom builds a service Config from application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		RetentionWindow: cfg.Retention.Window,
		MaxAge:          cfg.Retention.MaxAge,
		MaxLongPoll:     cfg.Server.MaxLongPoll,
		DefaultParams:   domain.DefaultParams(cfg.Worker.DefaultAttenuationLimitDB, cfg.Worker.DefaultOutputGainDB),
	}
}

// SubmitRequest is one uploaded audio file.
type SubmitRequest struct {
	// Filename is the client-supplied name; only its base is kept.
	Filename string

	// Size is the declared size in bytes, or -1 when unknown.
	Size int64

	Body io.Reader

	// Strength is the 0..10 slider value; nil selects server defaults.
	Strength *int
}

// SubmitResult describes a newly queued job.
type SubmitResult struct {
	Job             *domain.Job
	QueuePosition   int
	EstimatedWait   time.Duration
	RetentionWindow time.Duration
}

// StatusResult is the client view of a job.
type StatusResult struct {
	Job *domain.Job

	// QueuePosition counts the jobs served before this one; see
	// PositionEstimator.Ahead.
	QueuePosition int

	// TimeUntilDeletion is set once the job is terminal.
	TimeUntilDeletion *time.Duration
}

// ResultArtifact is an open output file ready to be streamed.
type ResultArtifact struct {
	Content *os.File
	Name    string
	Size    int64
	ModTime time.Time
}

// QueueStats summarizes outstanding work.
type QueueStats struct {
	Active  int
	Pending int
	Total   int
}

// Component states reported by Health.
const (
	ComponentOK          = "ok"
	ComponentUnavailable = "unavailable"
)

// HealthReport describes the reachability of dependencies and the limits
// clients must respect.
type HealthReport struct {
	Healthy           bool
	Store             string
	Queue             string
	QueueLength       int
	Workers           []task.SlotStatus
	MaxUploadBytes    int64
	AllowedExtensions []string
	RetentionWindow   time.Duration
}

// JobService defines the operations the gateway exposes.
type JobService interface {
	// Submit validates and stores the upload, creates a queued job and
	// enqueues it. Validation failures are *domain.ValidationError and
	// leave nothing behind.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	// Status returns the current view of a job. With wait > 0 it blocks
	// until the job is terminal or wait elapses, capped by MaxLongPoll.
	// Undecodable records are returned with status unknown, never as an
	// error.
	Status(ctx context.Context, id uuid.UUID, wait time.Duration) (*StatusResult, error)

	// Result opens the output of a completed job.
	Result(ctx context.Context, id uuid.UUID) (*ResultArtifact, error)

	// Delete removes a job and its artifacts. It reports whether a record
	// existed; deleting an unknown job is not an error.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// QueueStats counts processing and queued jobs.
	QueueStats(ctx context.Context) (QueueStats, error)

	// Health checks the store and the queue.
	Health(ctx context.Context) HealthReport
}

// jobServiceImpl implements the JobService interface
type jobServiceImpl struct {
	store     store.JobStore
	queue     queue.Queue
	artifacts Artifacts
	uploads   *enhance.UploadValidator
	positions *PositionEstimator
	emitter   events.EventEmitter
	waiter    *events.Waiter
	workers   WorkerReporter
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes the job service.
type Option func(*jobServiceImpl)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *jobServiceImpl) { s.now = now }
}

// WithEmitter sets the emitter notified of queued and deleted jobs.
func WithEmitter(emitter events.EventEmitter) Option {
	return func(s *jobServiceImpl) { s.emitter = emitter }
}

// WithWaiter enables long-polling in Status. The waiter must be
// registered with the emitter the worker pool publishes to.
func WithWaiter(waiter *events.Waiter) Option {
	return func(s *jobServiceImpl) { s.waiter = waiter }
}

// WithWorkers adds worker slot states to Health.
func WithWorkers(workers WorkerReporter) Option {
	return func(s *jobServiceImpl) { s.workers = workers }
}

// NewJobService creates a JobService.
// It returns an error if any of the required dependencies are nil.
func NewJobService(
	jobStore store.JobStore,
	jobQueue queue.Queue,
	artifacts Artifacts,
	uploads *enhance.UploadValidator,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) (JobService, error) {
	// Validate dependencies
	switch {
	case jobStore == nil:
		return nil, &JobServiceError{Operation: "create_service", Message: "jobStore cannot be nil"}
	case jobQueue == nil:
		return nil, &JobServiceError{Operation: "create_service", Message: "jobQueue cannot be nil"}
	case artifacts == nil:
		return nil, &JobServiceError{Operation: "create_service", Message: "artifacts cannot be nil"}
	case uploads == nil:
		return nil, &JobServiceError{Operation: "create_service", Message: "uploads cannot be nil"}
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	s := &jobServiceImpl{
		store:     jobStore,
		queue:     jobQueue,
		artifacts: artifacts,
		uploads:   uploads,
		positions: NewPositionEstimator(jobStore),
		emitter:   events.NopEmitter{},
		config:    cfg,
		logger:    logger.With("component", "job_service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit implements JobService.
func (s *jobServiceImpl) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.uploads.ValidateName(req.Filename); err != nil {
		return nil, err
	}
	if req.Size >= 0 {
		if err := s.uploads.ValidateSize(req.Size); err != nil {
			return nil, err
		}
	}
	params, err := s.params(req.Strength)
	if err != nil {
		return nil, err
	}

	head := make([]byte, enhance.SniffLen)
	n, err := io.ReadFull(req.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, NewJobServiceError("submit", "failed to read upload", err)
	}
	head = head[:n]
	if err := s.uploads.ValidateContent(head); err != nil {
		return nil, err
	}

	// The upload gets its own id; refs are opaque to everything but the
	// file store.
	inputRef := filestore.UploadRef(uuid.New(), req.Filename)
	size, err := s.artifacts.Save(ctx, inputRef, io.MultiReader(bytes.NewReader(head), req.Body), s.uploads.MaxBytes())
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, domain.NewValidationError("file",
				fmt.Sprintf("exceeds maximum size of %d MB", s.uploads.MaxBytes()/(1024*1024)),
				enhance.ErrFileTooLarge)
		}
		s.logger.Error("failed to store upload", "error", err, "filename", req.Filename)
		return nil, NewJobServiceError("submit", "failed to store upload", err)
	}

	now := s.now()
	job, err := domain.NewJob(inputRef, filepath.Base(req.Filename), size, params, now, s.config.MaxAge)
	if err != nil {
		s.discardUpload(ctx, inputRef)
		return nil, NewJobServiceError("submit", "failed to create job object", err)
	}

	if err := s.store.Create(ctx, job); err != nil {
		s.logger.Error("failed to save job", "error", err, "job_id", job.ID)
		s.discardUpload(ctx, inputRef)
		return nil, NewJobServiceError("submit", "failed to save job", err)
	}

	if err := s.queue.Enqueue(ctx, queue.NewEntry(job.ID, now)); err != nil {
		s.logger.Error("failed to enqueue job", "error", err, "job_id", job.ID)
		s.withdraw(ctx, job.ID)
		return nil, NewJobServiceError("submit", "failed to enqueue job", err)
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"filename", job.Filename,
		"size_bytes", job.SizeBytes,
		"attenuation_limit_db", params.AttenuationLimitDB,
		"output_gain_db", params.OutputGainDB)
	s.emit(ctx, events.NewJobEvent(events.JobQueued, job))

	position, err := s.positions.Ahead(ctx, job)
	if err != nil {
		s.logger.Warn("failed to estimate queue position", "error", err, "job_id", job.ID)
	}

	return &SubmitResult{
		Job:             job,
		QueuePosition:   position,
		EstimatedWait:   EstimatedWait(position),
		RetentionWindow: s.config.RetentionWindow,
	}, nil
}

func (s *jobServiceImpl) params(strength *int) (domain.EnhanceParams, error) {
	if strength == nil {
		return s.config.DefaultParams, nil
	}
	return domain.ParamsForStrength(*strength)
}

// discardUpload removes an upload no job record refers to.
func (s *jobServiceImpl) discardUpload(ctx context.Context, ref string) {
	if err := s.artifacts.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Warn("failed to discard upload", "error", err, "ref", ref)
	}
}

// withdraw removes a job that was stored but never enqueued.
func (s *jobServiceImpl) withdraw(ctx context.Context, id uuid.UUID) {
	err := s.store.Delete(context.WithoutCancel(ctx), id, func(ctx context.Context, job *domain.Job) error {
		return s.artifacts.Delete(ctx, filestore.JobRefs(job)...)
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to withdraw unqueued job", "error", err, "job_id", id)
	}
}

// Status implements JobService.
func (s *jobServiceImpl) Status(ctx context.Context, id uuid.UUID, wait time.Duration) (*StatusResult, error) {
	wait = min(wait, s.config.MaxLongPoll)
	if wait <= 0 || s.waiter == nil {
		return s.status(ctx, id)
	}

	// Subscribe before reading so a transition between the read and the
	// wait is not missed.
	updates, cancel := s.waiter.Subscribe(id)
	defer cancel()

	res, err := s.status(ctx, id)
	if err != nil || res.Job.IsTerminal() || res.Job.Status == domain.JobStatusUnknown {
		return res, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case ev := <-updates:
			if !ev.Type.IsFinal() {
				continue
			}
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.status(ctx, id)
	}
}

func (s *jobServiceImpl) status(ctx context.Context, id uuid.UUID) (*StatusResult, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to retrieve job", "error", err, "job_id", id)
		}
		return nil, NewJobServiceError("get_status", "failed to retrieve job", err)
	}

	now := s.now()
	if job.Expired(now) {
		return nil, ErrJobExpired
	}

	res := &StatusResult{Job: job}
	if job.Status == domain.JobStatusQueued {
		position, err := s.positions.Ahead(ctx, job)
		if err != nil {
			s.logger.Warn("failed to estimate queue position", "error", err, "job_id", id)
		}
		res.QueuePosition = position
	}
	if job.IsTerminal() {
		remaining := job.TimeUntilDeletion(now)
		res.TimeUntilDeletion = &remaining
	}
	return res, nil
}

// Result implements JobService.
func (s *jobServiceImpl) Result(ctx context.Context, id uuid.UUID) (*ResultArtifact, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, NewJobServiceError("get_result", "failed to retrieve job", err)
	}
	if job.Expired(s.now()) {
		return nil, ErrJobExpired
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	f, info, err := s.artifacts.Open(job.OutputRef)
	if err != nil {
		if errors.Is(err, filestore.ErrArtifactNotFound) {
			s.logger.Warn("output of completed job is missing", "job_id", id)
			return nil, ErrJobExpired
		}
		s.logger.Error("failed to open job output", "error", err, "job_id", id)
		return nil, NewJobServiceError("get_result", "failed to open output", err)
	}

	return &ResultArtifact{
		Content: f,
		Name:    filestore.DownloadName(job.Filename),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Delete implements JobService.
func (s *jobServiceImpl) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted *domain.Job
	err := s.store.Delete(ctx, id, func(ctx context.Context, job *domain.Job) error {
		deleted = job
		return s.artifacts.Delete(ctx, filestore.JobRefs(job)...)
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Error("failed to delete job", "error", err, "job_id", id)
		return false, NewJobServiceError("delete", "failed to delete job", err)
	}

	s.logger.Info("job deleted on request", "job_id", id, "status", deleted.Status)
	s.emit(ctx, events.NewJobEvent(events.JobDeleted, deleted))
	return true, nil
}

// QueueStats implements JobService.
func (s *jobServiceImpl) QueueStats(ctx context.Context) (QueueStats, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		s.logger.Error("failed to count jobs", "error", err)
		return QueueStats{}, NewJobServiceError("queue_stats", "failed to count jobs", err)
	}
	return QueueStats{
		Active:  counts.Processing,
		Pending: counts.Queued,
		Total:   counts.Processing + counts.Queued,
	}, nil
}

// Health implements JobService.
func (s *jobServiceImpl) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:           true,
		Store:             ComponentOK,
		Queue:             ComponentOK,
		MaxUploadBytes:    s.uploads.MaxBytes(),
		AllowedExtensions: s.uploads.Extensions(),
		RetentionWindow:   s.config.RetentionWindow,
	}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("job store unreachable", "error", err)
		report.Store = ComponentUnavailable
		report.Healthy = false
	}

	if err := s.queue.Ping(ctx); err != nil {
		s.logger.Warn("queue unreachable", "error", err)
		report.Queue = ComponentUnavailable
		report.Healthy = false
	} else if n, err := s.queue.Len(ctx); err == nil {
		report.QueueLength = n
	}

	if s.workers != nil {
		report.Workers = s.workers.Slots()
	}
	return report
}

func (s *jobServiceImpl) emit(ctx context.Context, event *events.JobEvent) {
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Warn("failed to emit job event",
			"error", err,
			"job_id", event.JobID,
			"event_type", event.Type)
	}
}
