package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Per-bar audit records. Quiet bars are not persisted; every row
		// carries at least one event, detection, rejection, or transition.
		`CREATE TABLE IF NOT EXISTS bar_outcomes (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			bar_index INTEGER NOT NULL,
			bar_time BIGINT NOT NULL,
			cycle INTEGER NOT NULL,
			phase VARCHAR(4) NOT NULL,
			phase_from VARCHAR(4),
			range_invalidated BOOLEAN NOT NULL DEFAULT FALSE,
			events JSONB,
			detections JSONB,
			campaign_id UUID,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bar_outcomes_symbol ON bar_outcomes(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_bar_outcomes_bar_time ON bar_outcomes(bar_time)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bar_outcomes_symbol_bar ON bar_outcomes(symbol, bar_index)`,

		// Rejected candidates, one row each so the audit trail distinguishes
		// "rejected" from "no candidate".
		`CREATE TABLE IF NOT EXISTS candidate_rejections (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			bar_index INTEGER NOT NULL,
			cycle INTEGER NOT NULL,
			stage VARCHAR(20) NOT NULL,
			pattern VARCHAR(10) NOT NULL,
			code VARCHAR(40) NOT NULL,
			reason TEXT,
			score DECIMAL(6, 4),
			floor_value DECIMAL(6, 4),
			correlation DECIMAL(6, 4),
			conflict_symbol VARCHAR(20),
			conflict_campaign UUID,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidate_rejections_symbol ON candidate_rejections(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_candidate_rejections_stage ON candidate_rejections(stage)`,

		// Approved signals keyed by their pipeline-assigned UUID so replays
		// upsert instead of duplicating.
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			pattern VARCHAR(10) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			target_price DECIMAL(20, 8) NOT NULL,
			secondary_target DECIMAL(20, 8),
			r_multiple DECIMAL(10, 4),
			confidence DECIMAL(6, 4) NOT NULL,
			components JSONB,
			status VARCHAR(12) NOT NULL,
			campaign_id UUID,
			bar_index INTEGER NOT NULL,
			cycle INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_campaign ON signals(campaign_id)`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			cycle INTEGER NOT NULL,
			status VARCHAR(10) NOT NULL,
			open_bar INTEGER NOT NULL,
			close_bar INTEGER,
			opened_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_symbol ON campaigns(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,

		`CREATE TABLE IF NOT EXISTS phase_transitions (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			cycle INTEGER NOT NULL,
			phase_from VARCHAR(4) NOT NULL,
			phase_to VARCHAR(4) NOT NULL,
			bar_index INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_phase_transitions_symbol ON phase_transitions(symbol)`,

		// Create updated_at trigger function
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_signals_updated_at ON signals`,
		`CREATE TRIGGER update_signals_updated_at BEFORE UPDATE ON signals
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_campaigns_updated_at ON campaigns`,
		`CREATE TRIGGER update_campaigns_updated_at BEFORE UPDATE ON campaigns
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
