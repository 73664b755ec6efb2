package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/openvoice/internal/config"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/store"
	"golang.org/x/sync/errgroup"
)

// Artifacts resolves and removes job artifacts.
type Artifacts interface {
	// Path resolves an artifact ref to a filesystem path.
	Path(ref string) (string, error)

	// Delete removes artifacts; missing ones are not an error.
	Delete(ctx context.Context, refs ...string) error
}

// Config holds configuration for the worker pool.
type Config struct {
	// WorkerCount determines how many slots process jobs concurrently.
	WorkerCount int

	// Policy decides when a slot recycles its enhancer.
	Policy RecyclePolicy

	// JobTimeout force-fails a job with kind Timeout; 0 disables.
	JobTimeout time.Duration

	// AbandonGrace is how long a slot waits for the enhancer to return
	// after a timeout before abandoning it and recycling.
	AbandonGrace time.Duration

	// RetentionWindow sets the deadline of terminal jobs.
	RetentionWindow time.Duration

	// StuckJobAge force-fails jobs processing longer than this; 0 disables.
	StuckJobAge time.Duration

	// StuckCheckInterval defines how often to check for stuck jobs.
	StuckCheckInterval time.Duration

	// RetryBackoff is the pause after a queue or enhancer factory error.
	RetryBackoff time.Duration
}

// ConfigFrom builds a pool Config from application configuration.
func ConfigFrom(worker config.WorkerConfig, retention config.RetentionConfig) Config {
	return Config{
		WorkerCount: worker.Count,
		Policy: RecyclePolicy{
			MaxTasks:       worker.MaxTasksPerWorker,
			MaxMemoryBytes: worker.MaxMemoryBytes(),
		},
		JobTimeout:         worker.JobTimeout,
		AbandonGrace:       worker.AbandonGrace,
		RetentionWindow:    retention.Window,
		StuckJobAge:        worker.StuckJobAge,
		StuckCheckInterval: worker.StuckCheckInterval,
	}
}

// Pool manages the worker slots that process jobs from the queue.
type Pool struct {
	store     store.JobStore
	queue     queue.Queue
	artifacts Artifacts
	factory   enhance.Factory
	emitter   events.EventEmitter
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	slots []*slot

	// abandoned tracks enhancer calls still running after a timeout.
	abandoned sync.WaitGroup
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithEmitter sets the emitter receiving job lifecycle events.
func WithEmitter(emitter events.EventEmitter) Option {
	return func(p *Pool) { p.emitter = emitter }
}

// NewPool creates a pool. It does not start any goroutines.
func NewPool(
	jobStore store.JobStore,
	jobQueue queue.Queue,
	artifacts Artifacts,
	factory enhance.Factory,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker_pool")

	if cfg.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.WorkerCount,
			"default_count", 1)
		cfg.WorkerCount = 1
	}
	if cfg.StuckCheckInterval <= 0 {
		cfg.StuckCheckInterval = 5 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	p := &Pool{
		store:     jobStore,
		queue:     jobQueue,
		artifacts: artifacts,
		factory:   factory,
		emitter:   events.NopEmitter{},
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.slots = make([]*slot, cfg.WorkerCount)
	for i := range p.slots {
		p.slots[i] = newSlot(i, p)
	}
	return p
}

// Run recovers unfinished jobs, then runs the slots and the stuck job
// monitor until ctx is cancelled or the queue is closed. Jobs in flight
// when ctx is cancelled are failed with kind InfrastructureError.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range p.slots {
		s := s
		g.Go(func() error {
			return s.run(gctx)
		})
	}
	if p.config.StuckJobAge > 0 {
		g.Go(func() error {
			p.stuckJobMonitor(gctx)
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// WaitAbandoned blocks until every abandoned enhancer call has returned or
// ctx is done.
func (p *Pool) WaitAbandoned(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.abandoned.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Slots returns a snapshot of every slot's state.
func (p *Pool) Slots() []SlotStatus {
	out := make([]SlotStatus, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.status()
	}
	return out
}

// emit publishes a lifecycle event; failures are logged only.
func (p *Pool) emit(ctx context.Context, event *events.JobEvent) {
	if err := p.emitter.EmitEvent(ctx, event); err != nil {
		p.logger.Warn("failed to emit job event",
			"event_type", event.Type,
			"job_id", event.JobID,
			"error", err)
	}
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
