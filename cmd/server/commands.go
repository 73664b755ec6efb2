package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/phrazzld/openvoice/internal/config"
	"github.com/phrazzld/openvoice/internal/migrations"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "openvoice",
		Short:         "Asynchronous speech enhancement server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to a config file (default: $OPENVOICE_CONFIG or ./config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
	)
	return root
}

// loadAppConfig loads configuration and sets up the default logger.
func loadAppConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver,
		"queue_backend", cfg.Queue.Backend,
		"workers", cfg.Worker.Count)
	return cfg, log, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, worker pool and retention sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadAppConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Run(ctx)
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Manage the job store schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{migrations.CommandUp, migrations.CommandDown, migrations.CommandStatus, migrations.CommandVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := migrations.CommandUp
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, err := loadAppConfig(opts)
			if err != nil {
				return err
			}
			return runMigrateCommand(cmd.Context(), cfg, command, log)
		},
	}
}

// runMigrateCommand applies a migration command to the configured database.
func runMigrateCommand(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	if cfg.Database.Driver == driverMemory {
		log.Info("memory job store has no schema, nothing to migrate")
		return nil
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()

	return migrations.Run(ctx, db, cfg.Database.Driver, command, log)
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired jobs and orphan artifacts once, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadAppConfig(opts)
			if err != nil {
				return err
			}
			return runSweepCommand(cmd.Context(), cfg, log)
		},
	}
}

// runSweepCommand performs a single retention sweep against the
// configured store and artifact directories.
func runSweepCommand(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Database.Driver == driverMemory {
		return fmt.Errorf("sweep needs a persistent job store, database driver is %q", driverMemory)
	}

	deps, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	res, err := newSweeper(cfg, deps, log, nil).SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("retention sweep failed: %w", err)
	}
	log.Info("sweep command finished",
		"deleted", res.Deleted,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"purged", res.Purged)
	return nil
}
