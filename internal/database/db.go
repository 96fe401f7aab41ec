// Package database is the PostgreSQL persistence layer: detections, signal
// history, and sent alerts survive restarts. The engine runs without it; the
// file store covers deployments with no database.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"signal-engine/internal/logging"
)

// Config holds database connection settings. URL is a standard postgres
// connection string.
type Config struct {
	URL      string `json:"url"`
	MaxConns int32  `json:"max_conns"`
	MinConns int32  `json:"min_conns"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB connects and verifies the pool with a ping.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MinConns = cfg.MinConns
	if poolConfig.MinConns <= 0 {
		poolConfig.MinConns = 2
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log := logging.Component("database")
	log.Info().Msg("postgres connected")
	return &DB{Pool: pool, log: log}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations applies the schema. Statements are idempotent so migration
// runs on every startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id VARCHAR(36) PRIMARY KEY,
			strategy_id VARCHAR(50) NOT NULL,
			strategy_name VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			grade VARCHAR(8) NOT NULL,
			confidence INTEGER NOT NULL,
			status VARCHAR(20) NOT NULL,
			entry DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			detection_count INTEGER NOT NULL DEFAULT 1,
			notes TEXT,
			first_detected_at TIMESTAMPTZ NOT NULL,
			last_detected_at TIMESTAMPTZ NOT NULL,
			cooldown_ends_at TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_symbol ON detections(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_status ON detections(status)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_last_detected ON detections(last_detected_at)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id VARCHAR(36) PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			strategy_id VARCHAR(50) NOT NULL,
			style VARCHAR(10) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			grade VARCHAR(8) NOT NULL,
			confidence INTEGER NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at)`,

		`CREATE TABLE IF NOT EXISTS alert_history (
			id SERIAL PRIMARY KEY,
			signal_id VARCHAR(36) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			strategy_id VARCHAR(50) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			grade VARCHAR(8) NOT NULL,
			confidence INTEGER NOT NULL,
			entry VARCHAR(20) NOT NULL,
			stop_loss VARCHAR(20) NOT NULL,
			take_profit VARCHAR(20) NOT NULL,
			reason TEXT,
			sent_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_symbol ON alert_history(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_sent ON alert_history(sent_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Int("statements", len(migrations)).Msg("migrations complete")
	return nil
}
