package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scalping-bot-go/internal/config"
	"scalping-bot-go/internal/database"
	"scalping-bot-go/internal/exchange"
	"scalping-bot-go/internal/logger"
	"scalping-bot-go/internal/metrics"
	"scalping-bot-go/internal/trader"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Validate before anything else runs: a missing or malformed key must
	// fail fast, not mid-cycle.
	strategyCfg, err := cfg.Validate()
	if err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded and validated")

	// Initialize trade journal database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize exchange REST client and verify connectivity with a cheap
	// read before committing to the trading loop.
	client := exchange.NewRestClient(&cfg.Exchange, log)
	if !cfg.Trading.DryRun {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Exchange.TimeoutSeconds)*time.Second)
		if _, err := client.GetLatestPrice(probeCtx, cfg.Trading.Markets[0]); err != nil {
			probeCancel()
			log.Fatal("Failed to connect to exchange API", zap.Error(err))
		}
		probeCancel()
		log.Info("Successfully connected to exchange API.")
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	prom := metrics.NewPrometheus()

	// Initialize and run the trading engine
	engine := trader.NewEngine(log, &cfg, strategyCfg, client, db, prom.Metrics)

	apiServer := trader.NewAPIServer(engine, prom.Handler(), cfg.Server.Port, log)
	apiServer.Start()

	engine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
