// Package database provides the PostgreSQL client and migration utilities.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the connection pool used by all repositories.
type Client struct {
	pool *pgxpool.Pool
}

// Pool returns the underlying pgx pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.pool.Close()
}

// NewClientFromPool wraps an existing pool (useful for testing).
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// NewClient connects to PostgreSQL, applies pending migrations, and returns
// a pooled client with pgvector types registered on every connection.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	// Migrations run over database/sql; golang-migrate has no pgx-native driver.
	migrationDB, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrationDB.PingContext(ctx); err != nil {
		_ = migrationDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(migrationDB, cfg.Database); err != nil {
		_ = migrationDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrationDB.Close(); err != nil {
		return nil, fmt.Errorf("failed to close migration connection: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

// MigrateAndConnect applies migrations against a raw DSN and returns a small
// pool with pgvector types registered. Test harnesses use it with per-test
// schema DSNs; production wiring goes through NewClient.
func MigrateAndConnect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	migrationDB, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := runMigrations(migrationDB, "chronicle"); err != nil {
		_ = migrationDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrationDB.Close(); err != nil {
		return nil, fmt.Errorf("failed to close migration connection: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolCfg.MaxConns = 5
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// runMigrations applies pending migrations using golang-migrate with the
// embedded migration files. Files are embedded at compile time so production
// binaries carry their own schema.
func runMigrations(db *stdsql.DB, dbName string) error {
	sourceFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	source, err := iofs.New(sourceFS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
