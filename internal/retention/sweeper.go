package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/openvoice/internal/config"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/store"
)

// errNotExpired aborts a deletion when the deadline moved after listing.
var errNotExpired = errors.New("job no longer expired")

// Artifacts removes job artifacts.
type Artifacts interface {
	// Delete removes artifacts; missing ones are not an error.
	Delete(ctx context.Context, refs ...string) error

	// PurgeOlderThan removes every artifact last modified before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Config controls the sweeper.
type Config struct {
	// Interval is the time between sweeps.
	Interval time.Duration

	// Window is the retention window of terminal jobs.
	Window time.Duration

	// MaxAge is the absolute lifetime bound. Files older than
	// MaxAge+Window cannot belong to a live job and are purged.
	MaxAge time.Duration

	// Batch limits deletions per sweep; 0 means no limit.
	Batch int
}

// ConfigFrom builds a sweeper Config from application configuration.
func ConfigFrom(cfg config.RetentionConfig) Config {
	return Config{
		Interval: cfg.SweepInterval,
		Window:   cfg.Window,
		MaxAge:   cfg.MaxAge,
		Batch:    cfg.SweepBatch,
	}
}

// Result summarizes one sweep.
type Result struct {
	// Deleted counts removed job records.
	Deleted int
	// Skipped counts jobs already gone or no longer expired.
	Skipped int
	// Failed counts jobs kept because deleting them failed.
	Failed int
	// Purged counts orphan files removed.
	Purged int
}

// Sweeper periodically deletes expired jobs.
type Sweeper struct {
	store     store.JobStore
	artifacts Artifacts
	emitter   events.EventEmitter
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithEmitter sets the emitter notified of deleted jobs.
func WithEmitter(emitter events.EventEmitter) Option {
	return func(s *Sweeper) { s.emitter = emitter }
}

// NewSweeper creates a Sweeper.
func NewSweeper(jobStore store.JobStore, artifacts Artifacts, cfg Config, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	s := &Sweeper{
		store:     jobStore,
		artifacts: artifacts,
		emitter:   events.NopEmitter{},
		config:    cfg,
		logger:    logger.With("component", "retention_sweeper"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("retention sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce deletes every job whose retention deadline has passed, then
// purges orphan artifacts. Each deletion runs under the store's per-job
// lock and re-checks the deadline there, so a job that a worker finished
// after it was listed is kept.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	expired, err := s.store.ListExpired(ctx, now, s.config.Batch)
	if err != nil {
		return res, err
	}

	for _, job := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := s.store.Delete(ctx, job.ID, func(ctx context.Context, current *domain.Job) error {
			if !current.Expired(now) {
				return errNotExpired
			}
			return s.artifacts.Delete(ctx, filestore.JobRefs(current)...)
		})

		switch {
		case err == nil:
			res.Deleted++
			s.logger.Info("deleted expired job",
				"job_id", job.ID,
				"status", job.Status,
				"retention_deadline", job.RetentionDeadline)
			if emitErr := s.emitter.EmitEvent(ctx, events.NewJobEvent(events.JobDeleted, job)); emitErr != nil {
				s.logger.Warn("failed to emit job event", "job_id", job.ID, "error", emitErr)
			}
		case errors.Is(err, store.ErrNotFound), errors.Is(err, errNotExpired):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Error("failed to delete expired job", "job_id", job.ID, "error", err)
		}
	}

	if s.config.MaxAge > 0 {
		cutoff := now.Add(-(s.config.MaxAge + s.config.Window))
		purged, err := s.artifacts.PurgeOlderThan(ctx, cutoff)
		res.Purged = purged
		if err != nil {
			s.logger.Warn("failed to purge orphan artifacts", "error", err)
		}
	}

	if res.Deleted+res.Failed+res.Purged > 0 {
		s.logger.Info("retention sweep finished",
			"deleted", res.Deleted,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"purged", res.Purged)
	}
	return res, nil
}
