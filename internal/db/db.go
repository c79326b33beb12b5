// Package db stores accounts, vouchers and seat records in PostgreSQL using pgx.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// ApplicationName tags connections in pg_stat_activity, which is where
	// a stuck advisory lock is traced back to the server or the CLI.
	ApplicationName string
}

// DefaultConfig returns a Config with sensible defaults. Advisory account
// locks pin one connection each, so the pool is sized above the expected
// number of concurrent redemptions.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxConns:        30,
		MinConns:        4,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ApplicationName: "seatbroker",
	}
}

// DB wraps a pgxpool.Pool with helper methods.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger.With().Str("component", "db").Logger(),
	}

	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.logger.Info().
		Str("application", cfg.ApplicationName).
		Int32("max_conns", cfg.MaxConns).
		Msg("database connection pool established")
	return db, nil
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
	db.logger.Info().Msg("database connection pool closed")
}

// Health is a snapshot of the connection pool and of the brokered
// inventory.
type Health struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	MaxConns      int32 `json:"max_conns"`

	SchemaVersion     int `json:"schema_version"`
	Accounts          int `json:"accounts"`
	Capacity          int `json:"capacity"`
	SeatsHeld         int `json:"seats_held"`
	VouchersAvailable int `json:"vouchers_available"`
	// AwaitingSweep counts non-cleaned records already past their expiry.
	// A steadily growing value means the sweep is failing or disabled.
	AwaitingSweep int `json:"awaiting_sweep"`
	ManualSeats   int `json:"manual_seats"`
}

// FreeSeats returns the capacity not covered by cached occupancy.
func (h *Health) FreeSeats() int {
	if free := h.Capacity - h.SeatsHeld; free > 0 {
		return free
	}
	return 0
}

// Health reports pool usage and inventory counts at now.
func (db *DB) Health(ctx context.Context, now time.Time) (*Health, error) {
	stats := db.Pool.Stat()
	h := &Health{
		AcquiredConns: stats.AcquiredConns(),
		IdleConns:     stats.IdleConns(),
		MaxConns:      stats.MaxConns(),
	}

	err := db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(MAX(version), 0) FROM schema_migrations),
			(SELECT COUNT(*) FROM accounts),
			(SELECT COALESCE(SUM(capacity), 0) FROM accounts),
			(SELECT COALESCE(SUM(cached_occupancy), 0) FROM accounts),
			(SELECT COUNT(*) FROM vouchers WHERE NOT consumed),
			(SELECT COUNT(*) FROM seat_records WHERE NOT cleaned AND expires_at < $1),
			(SELECT COUNT(*) FROM seat_records WHERE NOT cleaned AND expires_at IS NULL)
	`, now).Scan(&h.SchemaVersion, &h.Accounts, &h.Capacity, &h.SeatsHeld,
		&h.VouchersAvailable, &h.AwaitingSweep, &h.ManualSeats)
	if err != nil {
		return h, fmt.Errorf("query inventory: %w", err)
	}
	return h, nil
}

// ExecTx executes a function within a database transaction.
func (db *DB) ExecTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
