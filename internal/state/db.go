package state

import (
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
		CREATE TABLE IF NOT EXISTS accrual_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_id VARCHAR(64) NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			value_before NUMERIC(40, 0) NOT NULL,
			value_after NUMERIC(40, 0) NOT NULL,
			delta NUMERIC(40, 0) NOT NULL,
			index_before NUMERIC(40, 0) NOT NULL,
			index_after NUMERIC(40, 0) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_accrual_snapshots_timestamp ON accrual_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_accrual_snapshots_cycle ON accrual_snapshots(cycle_id);

		CREATE TABLE IF NOT EXISTS weight_updates (
			record_id SERIAL PRIMARY KEY,
			update_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tokens TEXT[] NOT NULL,
			weights BIGINT[] NOT NULL,
			drain_failures TEXT[]
		);
		CREATE INDEX IF NOT EXISTS idx_weight_updates_timestamp ON weight_updates(update_timestamp DESC);

		CREATE TABLE IF NOT EXISTS event_journal (
			event_id SERIAL PRIMARY KEY,
			event_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			kind VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_event_journal_timestamp ON event_journal(event_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_event_journal_kind ON event_journal(kind);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("Database schema ensured.")
	return nil
}
