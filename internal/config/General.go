package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// LogLevel is the zerolog level name (e.g. "debug", "info").
	LogLevel string

	// WebPort is the listen port for the status API.
	WebPort string

	// OwnerAddress administers the vault and router.
	OwnerAddress string
	// TreasuryAddress receives redemption fees.
	TreasuryAddress string
	// ManagerAddress drives weight updates and accruals.
	ManagerAddress string
	// BridgeAddress is granted the ghost mint/burn role at startup.
	BridgeAddress string

	// RedemptionFeeBps is the initial redemption fee in basis points.
	RedemptionFeeBps uint64
	// AccrualIntervalSeconds is the initial automation interval; 0 disables
	// automated accrual.
	AccrualIntervalSeconds uint64
	// CycleSeconds is the keeper loop tick period.
	CycleSeconds uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	LogLevel, err = getEnv("LOG_LEVEL")
	if err != nil {
		return err
	}

	WebPort, err = getEnv("WEB_PORT")
	if err != nil {
		return err
	}

	OwnerAddress, err = getEnv("OWNER_ADDRESS")
	if err != nil {
		return err
	}

	TreasuryAddress, err = getEnv("TREASURY_ADDRESS")
	if err != nil {
		return err
	}

	ManagerAddress, err = getEnv("MANAGER_ADDRESS")
	if err != nil {
		return err
	}

	BridgeAddress, err = getEnv("BRIDGE_ADDRESS")
	if err != nil {
		return err
	}

	RedemptionFeeBps, err = getEnvAsUint64("REDEMPTION_FEE_BPS")
	if err != nil {
		return err
	}

	AccrualIntervalSeconds, err = getEnvAsUint64("ACCRUAL_INTERVAL_SECONDS")
	if err != nil {
		return err
	}

	CycleSeconds, err = getEnvAsUint64("CYCLE_SECONDS")
	if err != nil {
		return err
	}

	if err := loadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("WebPort", WebPort).
		Str("Owner", OwnerAddress).
		Uint64("RedemptionFeeBps", RedemptionFeeBps).
		Uint64("AccrualIntervalSeconds", AccrualIntervalSeconds).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
