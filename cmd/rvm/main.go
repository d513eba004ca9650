package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/meridian-fi/rvm/internal/config"
	"github.com/meridian-fi/rvm/internal/engine"
	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/state"
	"github.com/meridian-fi/rvm/internal/types"
	"github.com/meridian-fi/rvm/internal/web"
)

// main is the entry point for the rebasing vault manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel)
	log.Info().Msg("RVM Core Starting...")

	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Every vault and router event lands in the database journal; the memory
	// sink keeps a recent in-process copy.
	sink := types.NewMultiSink(types.NewMemorySink(), state.NewJournalSink())

	// --- 2. Deployment Wiring ---
	deploy, err := buildDeployment(
		sink,
		types.Address(config.OwnerAddress),
		types.Address(config.TreasuryAddress),
		types.Address(config.ManagerAddress),
		types.Address(config.BridgeAddress),
		config.RedemptionFeeBps,
		config.AccrualIntervalSeconds,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build deployment")
	}
	log.Info().
		Str("vault", string(deploy.vault.Address())).
		Str("router", string(deploy.router.Address())).
		Int("destinations", len(deploy.router.Assets())).
		Msg("Deployment wired")

	// --- 3. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, deploy.vault, deploy.router)
	go func() {
		log.Info().Str("port", config.WebPort).Msg("Starting status API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Keeper Loop ---
	keeper, err := engine.NewKeeper(engine.Config{
		Router:  deploy.router,
		Persist: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	cycleInterval := time.Duration(config.CycleSeconds) * time.Second
	if cycleInterval <= 0 {
		cycleInterval = time.Minute
	}
	log.Info().Str("interval", cycleInterval.String()).Msg("Starting keeper main loop")

	ctx := context.Background()
	keeper.RunLoop(ctx, cycleInterval)
}
