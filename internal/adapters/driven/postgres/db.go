package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// DB is the pool shared by the collection, sync state, scheduler and record adapters.
type DB struct {
	*sql.DB
}

// Config configures the pool. Zero values leave database/sql defaults.
type Config struct {
	// URL is a lib/pq connection string or postgres:// URL.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectTimeout bounds retries of the first ping. Zero pings once.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Connect opens the pool and waits for the first successful ping. The
// database often starts alongside the service, so pings are retried.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	opts := []backoff.RetryOption{backoff.WithMaxTries(1)}
	if cfg.ConnectTimeout > 0 {
		opts = []backoff.RetryOption{
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(cfg.ConnectTimeout),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn("database not ready", "error", err, "retry_in", next)
			}),
		}
	}
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.PingContext(ctx)
	}, opts...); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: pool}, nil
}

// schemaLockKey serialises schema creation when api and worker start together.
const schemaLockKey int64 = 0x5e5c4a7e

// InitSchema applies the embedded schema inside one transaction. Every
// statement is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Ping serves the readiness check.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// NullTime maps an optional timestamp to a nullable column.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// TimePtr maps a nullable column back to an optional timestamp.
func TimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
