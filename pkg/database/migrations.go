package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/edgeproxy/edgeproxy/pkg/config"
	"github.com/edgeproxy/edgeproxy/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

// Migrator applies, rolls back, and reports on the backends table schema
// that registry.Store queries against.
type Migrator struct {
	pool *pgxpool.Pool
}

// NewMigrator builds a Migrator over an already-open pool.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	return &Migrator{pool: pool}
}

// Up applies every migration not yet recorded as run.
func (m *Migrator) Up(ctx context.Context) error {
	conn := stdlib.OpenDBFromPool(m.pool)
	defer conn.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Log.Info("database: migrations applied")
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	conn := stdlib.OpenDBFromPool(m.pool)
	defer conn.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.DownContext(ctx, conn, migrationsDir); err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}

	logger.Log.Info("database: last migration rolled back")
	return nil
}

// Status reports which migrations have been applied.
func (m *Migrator) Status(ctx context.Context) error {
	conn := stdlib.OpenDBFromPool(m.pool)
	defer conn.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.StatusContext(ctx, conn, migrationsDir)
}

// RunMigrations applies pending migrations if cfg.AutoMigrate is set;
// otherwise it is a no-op, matching deployments that run migrations as a
// separate release step rather than on every process start.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, cfg *config.DatabaseConfig) error {
	if !cfg.AutoMigrate {
		logger.Log.Info("database: auto-migrate disabled, skipping")
		return nil
	}
	return NewMigrator(pool).Up(ctx)
}
