package main

import (
	"context"
	"os"
	"strconv"

	"github.com/vmaiops-alt/leveraged-sub002/internal/config"
	"github.com/vmaiops-alt/leveraged-sub002/internal/fees"
	"github.com/vmaiops-alt/leveraged-sub002/internal/liquidator"
	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/oracle"
	"github.com/vmaiops-alt/leveraged-sub002/internal/pool"
	"github.com/vmaiops-alt/leveraged-sub002/internal/staking"
	"github.com/vmaiops-alt/leveraged-sub002/internal/state"
	"github.com/vmaiops-alt/leveraged-sub002/internal/tracker"
	"github.com/vmaiops-alt/leveraged-sub002/internal/vault"
	"github.com/vmaiops-alt/leveraged-sub002/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DEFAULT_PARAMS_CONFIG_NAME    = "default"
	DEFAULT_PARAMS_CONFIG_VERSION = 1
)

// main is the entry point for the leveraged trading engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Leveraged Trading Engine Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Protocol Parameters
	params, err := state.LoadActiveProtocolParameters(DEFAULT_PARAMS_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active protocol parameters, using defaults and saving.")
		defaultParams := config.DefaultProtocolParameters
		if _, err := state.SaveProtocolParameters(defaultParams, DEFAULT_PARAMS_CONFIG_NAME, DEFAULT_PARAMS_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default protocol parameters.")
		}
		params = &defaultParams
	}
	if err := params.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Active protocol parameters are invalid")
	}
	log.Info().Msg("Protocol parameters loaded successfully.")

	// --- 2. Oracle ---
	feed := oracle.NewFeed(config.OracleEndpoint, config.SupportedAssets, config.OracleMaxAge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Poll(ctx, config.OraclePollInterval)

	// --- 3. Engine Assembly with Dependency Injection ---
	journal := state.NewEventStore()

	lendingPool := pool.New(params, journal)
	valueTracker := tracker.New(params.PlatformFeeRate)
	lvgStaking := staking.New(params.DiscountTiers, journal)
	feeCollector := fees.New(params.FeeSplit, config.StableDenom, lvgStaking, journal)
	levVault := vault.New(params, lendingPool, valueTracker, feed, lvgStaking, feeCollector, journal)
	keeper := liquidator.New(params, levVault, feed, feeCollector)

	log.Info().
		Str("stable_denom", config.StableDenom).
		Msg("Engine components assembled")

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, params, lendingPool, levVault, lvgStaking, feeCollector, keeper)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting engine API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Fee Distribution Loop ---
	log.Info().
		Str("interval", config.FeeDistributionInterval.String()).
		Msg("Starting fee distribution loop")
	go feeCollector.RunLoop(ctx, config.FeeDistributionInterval)

	// --- 6. Keeper Loop ---
	log.Info().
		Str("interval", config.KeeperInterval.String()).
		Str("keeper", config.KeeperIdentity).
		Msg("Starting keeper loop")

	// Runs until the process is killed.
	keeper.RunLoop(ctx, config.KeeperIdentity, config.KeeperInterval, config.KeeperBatchSize)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
