package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsDir is the directory inside migrationsFS.
const migrationsDir = "migrations"

// Migration commands understood by RunMigrations.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateStatus  = "status"
	MigrateVersion = "version"
)

// SQLDB returns a database/sql handle sharing the pool, as goose requires one.
func (db *DB) SQLDB() *sql.DB {
	return stdlib.OpenDBFromPool(db.Pool)
}

// Migrate applies all pending migrations.
func (db *DB) Migrate(ctx context.Context) error {
	return db.RunMigrations(ctx, MigrateUp)
}

// RunMigrations runs a goose command against the embedded migrations.
func (db *DB) RunMigrations(ctx context.Context, command string) error {
	sqlDB := db.SQLDB()
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	var err error
	switch command {
	case MigrateUp:
		err = goose.UpContext(ctx, sqlDB, migrationsDir)
	case MigrateDown:
		err = goose.DownContext(ctx, sqlDB, migrationsDir)
	case MigrateStatus:
		err = goose.StatusContext(ctx, sqlDB, migrationsDir)
	case MigrateVersion:
		var version int64
		version, err = goose.GetDBVersionContext(ctx, sqlDB)
		if err == nil {
			db.logger.Info().Int64("version", version).Msg("current schema version")
		}
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	db.logger.Info().Str("command", command).Msg("migration finished")
	return nil
}
