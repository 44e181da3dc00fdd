// Package main provides the API server entry point for the wallet scanner service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardano-wallet-scanner/internal/adapter"
	"github.com/cardano-wallet-scanner/internal/api"
	"github.com/cardano-wallet-scanner/internal/config"
	"github.com/cardano-wallet-scanner/internal/engine"
	"github.com/cardano-wallet-scanner/internal/job"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/retry"
	"github.com/cardano-wallet-scanner/internal/storage"
	syncer "github.com/cardano-wallet-scanner/internal/sync"
	"github.com/cardano-wallet-scanner/internal/token"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize the chain source
	blockfrost := adapter.NewBlockfrostClient(&cfg.Blockfrost)
	logger.WithField("baseUrl", cfg.Blockfrost.BaseURL).Info("Blockfrost client initialized")

	// Initialize repositories
	txRepo := storage.NewWalletTransactionRepository(clickhouse)
	tokenRepo := storage.NewTokenRepository(postgres)
	cursorRepo := storage.NewSyncCursorRepository(postgres)
	jobRepo := storage.NewSyncJobRepository(postgres)
	jobStatusCache := storage.NewJobStatusCache(redis)

	// Token registry: Blockfrost metadata behind Postgres and Redis tiers
	registry := token.NewRegistry(blockfrost, tokenRepo, redis, token.Options{
		CacheTTL:       cfg.Token.CacheTTL,
		NegativeTTL:    cfg.Token.NegativeTTL,
		FetchBatchSize: cfg.Token.FetchBatchSize,
	})

	// Sync pipeline
	parser := engine.NewParser(registry, engine.NewDefaultCategorizer())
	retryCfg := &retry.Config{
		MaxAttempts:  cfg.Sync.MaxRetries + 1,
		InitialDelay: cfg.Sync.RetryBaseWait,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	orchestrator := syncer.NewOrchestrator(blockfrost, parser, txRepo, cursorRepo, retryCfg)
	coordinator := job.NewCoordinator(jobRepo, jobStatusCache, orchestrator, cfg.Sync.Workers)

	// Pick up jobs a previous process left queued
	if adopted, err := coordinator.ResumeQueued(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to resume queued sync jobs")
	} else if adopted > 0 {
		logger.WithField("jobs", adopted).Info("Resumed queued sync jobs")
	}

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  20,
	}

	server := api.NewServer(serverConfig, coordinator, txRepo, blockfrost, registry)

	// Start server in a goroutine. ErrServerClosed is the normal return
	// on graceful shutdown and must not abort the process while the
	// coordinator is still draining jobs.
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := coordinator.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Sync jobs still running at shutdown")
	}

	logger.Info("Server exited")
}
