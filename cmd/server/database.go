package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/openvoice/internal/config"
	"github.com/phrazzld/openvoice/internal/migrations"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/platform/memory"
	"github.com/phrazzld/openvoice/internal/platform/postgres"
	"github.com/phrazzld/openvoice/internal/platform/sqlite"
	"github.com/phrazzld/openvoice/internal/store"
)

// Values of database.driver.
const (
	driverMemory   = "memory"
	driverSQLite   = migrations.DialectSQLite
	driverPostgres = migrations.DialectPostgres
)

// openDatabase opens the SQL database for the sqlite and postgres drivers.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case driverSQLite:
		db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
		}
		return db, nil
	case driverPostgres:
		return postgres.Open(ctx, cfg.URL, cfg.MaxOpenConns)
	default:
		return nil, fmt.Errorf("database driver %q has no SQL database", cfg.Driver)
	}
}

// storage bundles the job store and artifact store, which every command
// that touches jobs needs.
type storage struct {
	db    *sql.DB
	jobs  store.JobStore
	files *filestore.Store
}

// openStorage opens the configured job store, applies pending migrations
// and prepares the artifact directories.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	files, err := filestore.New(cfg.Storage.UploadDir, cfg.Storage.ProcessedDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare artifact directories: %w", err)
	}

	if cfg.Database.Driver == driverMemory {
		log.Warn("using in-memory job store, jobs do not survive a restart")
		return &storage{jobs: memory.NewJobStore(log), files: files}, nil
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(ctx, db, cfg.Database.Driver, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("database connection established", "driver", cfg.Database.Driver)

	s := &storage{db: db, files: files}
	if cfg.Database.Driver == driverPostgres {
		s.jobs = postgres.NewPostgresJobStore(db, log)
	} else {
		s.jobs = sqlite.NewJobStore(db, log)
	}
	return s, nil
}

func (s *storage) close(log *slog.Logger) {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		log.Error("error closing database connection", "error", err)
	}
}
