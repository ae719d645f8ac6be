// Package database provides the PostgreSQL connection pool and migration
// runner shared by every other package. Runtime queries are written
// directly against database/sql + pgx rather than a generated ent client;
// entgo.io/ent is still used, one layer up, to declare the schema under
// ent/schema.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds database connection and pool configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps the shared *sql.DB. It has no ORM layer: every package that
// needs the database (pkg/queue, pkg/ratelimit, pkg/credentials, ...)
// takes a *sql.DB or *Client and writes its own short-transaction queries.
type Client struct {
	db *sql.DB
}

// DB returns the underlying connection pool.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClientFromDB wraps an existing *sql.DB, useful for tests against a
// testcontainers-managed Postgres instance that has already run migrations.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// NewClient opens a pooled connection to Postgres via pgx, runs embedded
// migrations, and returns a ready-to-use Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// RunMigrations applies embedded migrations to db under the given logical
// database name (used only for golang-migrate's lock/version bookkeeping).
// Exported so test/database can apply migrations into a per-test schema
// without going through NewClient's connection-pool setup.
func RunMigrations(db *sql.DB, databaseName string) error {
	return runMigrations(db, Config{Database: databaseName})
}

// runMigrations applies embedded SQL migrations with golang-migrate.
//
// Migration workflow:
//  1. Edit ent/schema/*.go.
//  2. Hand-author the matching migration under pkg/database/migrations/*.sql
//     (no generated ent client means no generated migration diff either).
//  3. Review & commit.
//  4. Deploy: the binary embeds the .sql files and auto-applies on startup.
func runMigrations(db *sql.DB, cfg Config) error {
	has, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !has {
		return fmt.Errorf("no embedded migration files found - binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source. Calling m.Close() would also close
	// the database driver, which calls db.Close() on the shared *sql.DB
	// passed via postgres.WithInstance() - breaking every other package.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
