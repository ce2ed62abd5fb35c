// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS protocol_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			base_rate DECIMAL(30, 18) NOT NULL,
			slope1 DECIMAL(30, 18) NOT NULL,
			slope2 DECIMAL(30, 18) NOT NULL,
			kink_utilization DECIMAL(30, 18) NOT NULL,
			max_deposit DECIMAL(38, 18) NOT NULL,
			min_leverage BIGINT NOT NULL,
			max_leverage BIGINT NOT NULL,
			liquidation_threshold DECIMAL(30, 18) NOT NULL,
			platform_fee_rate DECIMAL(30, 18) NOT NULL,
			keeper_reward_share DECIMAL(30, 18) NOT NULL,
			treasury_bps BIGINT NOT NULL,
			insurance_bps BIGINT NOT NULL,
			staker_bps BIGINT NOT NULL,
			discount_tiers JSONB NOT NULL DEFAULT '[]'::jsonb,
			CONSTRAINT uq_protocol_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_protocol_parameters_config_active ON protocol_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS engine_events (
			event_id UUID PRIMARY KEY,
			kind VARCHAR(50) NOT NULL,
			account VARCHAR(255),
			position_id BIGINT,
			asset VARCHAR(32),
			amount DECIMAL(38, 18),
			detail JSONB,
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_engine_events_occurred ON engine_events(occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_engine_events_kind ON engine_events(kind);
		CREATE INDEX IF NOT EXISTS idx_engine_events_account ON engine_events(account);
		CREATE INDEX IF NOT EXISTS idx_engine_events_position ON engine_events(position_id);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
