package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/openvoice/internal/config"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/redis"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/retention"
	"github.com/phrazzld/openvoice/internal/service"
	"github.com/phrazzld/openvoice/internal/task"
	"golang.org/x/sync/errgroup"
)

// jobEventLogger logs job state transitions at debug level.
type jobEventLogger struct {
	logger *slog.Logger
}

// HandleEvent implements events.EventHandler.
func (h jobEventLogger) HandleEvent(_ context.Context, event *events.JobEvent) error {
	h.logger.Debug("job event",
		"event_type", event.Type,
		"job_id", event.JobID,
		"status", event.Status,
		"progress", event.Progress)
	return nil
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	storage *storage
	queue   queue.Queue

	// Event system
	emitter *events.InMemoryEventEmitter
	waiter  *events.Waiter

	// Background processing
	pool    *task.Pool
	sweeper *retention.Sweeper

	jobService service.JobService
}

// newApplication creates a new application instance with all dependencies initialized.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	app.storage, err = openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app.queue, err = openQueue(ctx, cfg.Queue, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	// Initialize event emitter; the waiter wakes long-polling requests
	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.waiter = events.NewWaiter()
	app.emitter.RegisterHandler(app.waiter)
	app.emitter.RegisterHandler(jobEventLogger{logger: logger.With("component", "job_events")},
		events.JobQueued, events.JobStarted, events.JobCompleted, events.JobFailed, events.JobDeleted)

	app.pool = task.NewPool(
		app.storage.jobs,
		app.queue,
		app.storage.files,
		enhance.NewFactory(cfg.Worker, logger),
		task.ConfigFrom(cfg.Worker, cfg.Retention),
		logger,
		task.WithEmitter(app.emitter),
	)

	app.sweeper = newSweeper(cfg, app.storage, logger, app.emitter)

	app.jobService, err = service.NewJobService(
		app.storage.jobs,
		app.queue,
		app.storage.files,
		enhance.NewUploadValidator(cfg.Storage.MaxUploadBytes(), cfg.Storage.AllowedExtensions),
		service.ConfigFrom(cfg),
		logger,
		service.WithEmitter(app.emitter),
		service.WithWaiter(app.waiter),
		service.WithWorkers(app.pool),
	)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// openQueue connects the configured queue backend. Entries a previous
// process left in flight on Redis are returned to the pending list.
func openQueue(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (queue.Queue, error) {
	if cfg.Backend != "redis" {
		return queue.NewMemoryQueue(cfg.Size, logger), nil
	}

	q, err := redis.Open(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.RedisKey,
		Size:     cfg.Size,
	}, logger)
	if err != nil {
		return nil, err
	}
	if _, err := q.RestoreInflight(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

// newSweeper builds the retention sweeper over deps. emitter may be nil.
func newSweeper(cfg *config.Config, deps *storage, logger *slog.Logger, emitter events.EventEmitter) *retention.Sweeper {
	var opts []retention.Option
	if emitter != nil {
		opts = append(opts, retention.WithEmitter(emitter))
	}
	return retention.NewSweeper(deps.jobs, deps.files, retention.ConfigFrom(cfg.Retention), logger, opts...)
}

// Run listens on the configured port and serves until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		app.cleanup()
		return fmt.Errorf("failed to listen on port %d: %w", app.config.Server.Port, err)
	}
	return app.serve(ctx, ln)
}

// serve runs the HTTP server, the worker pool and the retention sweeper
// until ctx is cancelled or one of them fails, then shuts everything down
// in order: stop accepting requests, let the pool fail its in-flight jobs,
// close the queue, wait for abandoned enhancers, release storage.
func (app *application) serve(ctx context.Context, ln net.Listener) error {
	defer app.cleanup()

	server := &http.Server{
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.pool.Run(gctx)
	})

	g.Go(func() error {
		return app.sweeper.Run(gctx)
	})

	err := g.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	if waitErr := app.pool.WaitAbandoned(waitCtx); waitErr != nil {
		app.logger.Warn("abandoned enhancer calls still running at exit", "error", waitErr)
	}

	if err != nil {
		return err
	}
	app.logger.Info("server shutdown completed")
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			app.logger.Error("error closing job queue", "error", err)
		}
	}
	if app.storage != nil {
		app.storage.close(app.logger)
	}
	app.logger.Info("application shutdown completed")
}
