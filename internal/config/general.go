package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// StableDenom is the symbol of the stable deposit asset the pool is
	// denominated in.
	StableDenom string

	// WebPort is the port the read-only JSON API listens on.
	WebPort string

	// OracleEndpoint is the HTTP price feed the oracle client polls.
	OracleEndpoint string
	// OracleMaxAge is how old a cached quote may be before it is treated as stale.
	OracleMaxAge time.Duration
	// OraclePollInterval is how often the feed client refreshes quotes.
	OraclePollInterval time.Duration

	// KeeperInterval is how often the built-in keeper scans for liquidatable positions.
	KeeperInterval time.Duration
	// FeeDistributionInterval is how often pending platform fees are split to
	// treasury, insurance, and stakers.
	FeeDistributionInterval time.Duration
	// KeeperIdentity is the account the built-in keeper accrues rewards under.
	KeeperIdentity string
	// KeeperBatchSize caps how many positions one keeper sweep will liquidate.
	KeeperBatchSize int
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	StableDenom, err = getEnv("STABLE_DENOM")
	if err != nil {
		return err
	}

	OracleEndpoint, err = getEnv("ORACLE_ENDPOINT")
	if err != nil {
		return err
	}

	oracleMaxAgeSec, err := getEnvAsInt("ORACLE_MAX_AGE_SECONDS")
	if err != nil {
		return err
	}
	OracleMaxAge = time.Duration(oracleMaxAgeSec) * time.Second

	oraclePollSec, err := getEnvAsInt("ORACLE_POLL_SECONDS")
	if err != nil {
		return err
	}
	OraclePollInterval = time.Duration(oraclePollSec) * time.Second

	keeperSec, err := getEnvAsInt("KEEPER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	KeeperInterval = time.Duration(keeperSec) * time.Second

	feeSec, err := getEnvAsInt("FEE_DISTRIBUTION_SECONDS")
	if err != nil {
		return err
	}
	FeeDistributionInterval = time.Duration(feeSec) * time.Second

	KeeperIdentity, err = getEnv("KEEPER_IDENTITY")
	if err != nil {
		return err
	}

	batch, err := getEnvAsInt("KEEPER_BATCH_SIZE")
	if err != nil {
		return err
	}
	KeeperBatchSize = batch

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Debug().
		Str("StableDenom", StableDenom).
		Str("OracleEndpoint", OracleEndpoint).
		Dur("KeeperInterval", KeeperInterval).
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

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}
