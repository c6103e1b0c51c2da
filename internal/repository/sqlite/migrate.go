package sqlite

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migration commands understood by RunMigrations.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateStatus  = "status"
	MigrateVersion = "version"
)

// Migrate applies all pending migrations.
func (db *DB) Migrate(ctx context.Context) error {
	return db.RunMigrations(ctx, MigrateUp)
}

// RunMigrations runs a goose command against the embedded migrations.
func (db *DB) RunMigrations(ctx context.Context, command string) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	var err error
	switch command {
	case MigrateUp:
		err = goose.UpContext(ctx, db.db, migrationsDir)
	case MigrateDown:
		err = goose.DownContext(ctx, db.db, migrationsDir)
	case MigrateStatus:
		err = goose.StatusContext(ctx, db.db, migrationsDir)
	case MigrateVersion:
		var version int64
		version, err = goose.GetDBVersionContext(ctx, db.db)
		if err == nil {
			db.logger.Info().Int64("version", version).Msg("current schema version")
		}
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	db.logger.Debug().Str("command", command).Str("path", db.path).Msg("migration finished")
	return nil
}
