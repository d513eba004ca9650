package config

import (
	"github.com/rs/zerolog/log"
)

// Database configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// DBHost is the PostgreSQL host.
	DBHost string
	// DBPort is the PostgreSQL port.
	DBPort int
	// DBUser is the PostgreSQL user.
	DBUser string
	// DBPassword is the PostgreSQL password.
	DBPassword string
	// DBName is the database name.
	DBName string
	// DBSSLMode is the sslmode connection parameter.
	DBSSLMode string
)

// loadDatabaseConfig loads database configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadDatabaseConfig() error {
	log.Info().Msg("Loading database configuration from environment variables...")

	var err error

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	log.Debug().
		Str("DBHost", DBHost).
		Int("DBPort", DBPort).
		Str("DBName", DBName).
		Msg("Database configuration loaded successfully.")

	return nil
}
