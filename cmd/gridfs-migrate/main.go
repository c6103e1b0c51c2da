// Package main is the entry point for the GridFS storage database migration tool.
// It applies the embedded goose migrations of the PostgreSQL and SQLite chunk stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/config"
	"github.com/prn-tf/gridfs-storage/internal/pkg/logging"
	"github.com/prn-tf/gridfs-storage/internal/repository/postgres"
	"github.com/prn-tf/gridfs-storage/internal/repository/sqlite"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("GridFS Storage Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, "db-version":
		if command == "db-version" {
			command = postgres.MigrateVersion
		}
		if err := run(command); err != nil {
			fmt.Fprintf(os.Stderr, "gridfs-migrate: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func run(command string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	cfg, err := config.Load(os.Getenv("GRIDFS_CONFIG"))
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return migratePostgres(ctx, cfg, command, logger)
	case config.DriverSQLite:
		return migrateSQLite(ctx, cfg, command, logger)
	default:
		return fmt.Errorf("store driver %q has no schema to migrate", cfg.Store.Driver)
	}
}

func migratePostgres(ctx context.Context, cfg *config.Config, command string, logger zerolog.Logger) error {
	db, err := postgres.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, command); err != nil {
		return err
	}
	logger.Info().Str("command", command).Msg("Migration command finished")
	return nil
}

func migrateSQLite(ctx context.Context, cfg *config.Config, command string, logger zerolog.Logger) error {
	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(cfg.Database.Path), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, command); err != nil {
		return err
	}
	logger.Info().Str("command", command).Str("path", cfg.Database.Path).Msg("Migration command finished")
	return nil
}

func printUsage() {
	fmt.Println(`GridFS Storage Migration Tool

Usage:
  gridfs-migrate <command>

Commands:
  up          Run all pending migrations
  down        Rollback the last migration
  status      Show current migration status
  db-version  Print the current schema version
  version     Print version information
  help        Show this help message

The database is selected by store.driver in the GRIDFS_CONFIG file or GRIDFS_* variables.

Examples:
  GRIDFS_STORE_DRIVER=postgres gridfs-migrate up
  gridfs-migrate status`)
}
