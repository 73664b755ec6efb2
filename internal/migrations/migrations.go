// Package migrations embeds the SQL schema for every supported dialect and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Supported dialect names, matching config database.driver values.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Commands accepted by Run.
const (
	CommandUp      = "up"
	CommandDown    = "down"
	CommandStatus  = "status"
	CommandVersion = "version"
)

// slogGooseLogger adapts slog to goose's Printf/Fatalf logger.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l slogGooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level. goose only calls it from its global API,
// which this package does not use, so it never exits the process.
func (l slogGooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// NewProvider builds a goose provider for dialect over db. Postgres runs
// take a session advisory lock so concurrent instances migrate once.
func NewProvider(db *sql.DB, dialect string, logger *slog.Logger) (*goose.Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []goose.ProviderOption{
		goose.WithLogger(slogGooseLogger{logger: logger.With("component", "migrations")}),
	}

	var gooseDialect goose.Dialect
	switch dialect {
	case DialectPostgres:
		gooseDialect = goose.DialectPostgres
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, fmt.Errorf("failed to create migration lock: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	case DialectSQLite:
		gooseDialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	fsys, err := fs.Sub(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, dialect string, logger *slog.Logger) error {
	return Run(ctx, db, dialect, CommandUp, logger)
}

// Run executes a migration command and logs each result.
func Run(ctx context.Context, db *sql.DB, dialect, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	provider, err := NewProvider(db, dialect, logger)
	if err != nil {
		return err
	}

	log := logger.With("component", "migrations", "dialect", dialect, "command", command)

	switch command {
	case CommandUp:
		results, err := provider.Up(ctx)
		for _, r := range results {
			log.Info("migration applied", "result", r.String())
		}
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	case CommandDown:
		result, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		if result != nil {
			log.Info("migration rolled back", "result", result.String())
		}
	case CommandStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		for _, s := range statuses {
			log.Info("migration status",
				"version", s.Source.Version,
				"state", string(s.State),
				"applied_at", s.AppliedAt)
		}
	case CommandVersion:
		version, err := provider.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		log.Info("schema version", "version", version)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	return nil
}
