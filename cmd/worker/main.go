// Package main provides the maintenance worker entry point for the
// wallet scanner service. The worker adopts sync jobs left queued by a
// crashed server process and prunes aged job and token records.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardano-wallet-scanner/internal/adapter"
	"github.com/cardano-wallet-scanner/internal/config"
	"github.com/cardano-wallet-scanner/internal/engine"
	"github.com/cardano-wallet-scanner/internal/job"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/retry"
	"github.com/cardano-wallet-scanner/internal/storage"
	syncer "github.com/cardano-wallet-scanner/internal/sync"
	"github.com/cardano-wallet-scanner/internal/token"
)

const (
	resumeInterval    = 30 * time.Second
	pruneInterval     = time.Hour
	jobRetention      = 7 * 24 * time.Hour
	metadataRetention = 30 * 24 * time.Hour
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Sync worker starting")

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

	blockfrost := adapter.NewBlockfrostClient(&cfg.Blockfrost)

	txRepo := storage.NewWalletTransactionRepository(clickhouse)
	tokenRepo := storage.NewTokenRepository(postgres)
	cursorRepo := storage.NewSyncCursorRepository(postgres)
	jobRepo := storage.NewSyncJobRepository(postgres)
	jobStatusCache := storage.NewJobStatusCache(redis)

	registry := token.NewRegistry(blockfrost, tokenRepo, redis, token.Options{
		CacheTTL:       cfg.Token.CacheTTL,
		NegativeTTL:    cfg.Token.NegativeTTL,
		FetchBatchSize: cfg.Token.FetchBatchSize,
	})

	parser := engine.NewParser(registry, engine.NewDefaultCategorizer())
	retryCfg := &retry.Config{
		MaxAttempts:  cfg.Sync.MaxRetries + 1,
		InitialDelay: cfg.Sync.RetryBaseWait,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	orchestrator := syncer.NewOrchestrator(blockfrost, parser, txRepo, cursorRepo, retryCfg)
	coordinator := job.NewCoordinator(jobRepo, jobStatusCache, orchestrator, cfg.Sync.Workers)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	resumeTicker := time.NewTicker(resumeInterval)
	defer resumeTicker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	ctx := context.Background()
	if _, err := coordinator.ResumeQueued(ctx); err != nil {
		logger.WithError(err).Warn("Failed to resume queued sync jobs")
	}

	logger.Info("Sync worker running")

	for {
		select {
		case <-resumeTicker.C:
			if _, err := coordinator.ResumeQueued(ctx); err != nil {
				logger.WithError(err).Warn("Failed to resume queued sync jobs")
			}

		case <-pruneTicker.C:
			prune(ctx, jobRepo, tokenRepo, logger)

		case <-stop:
			logger.Info("Sync worker shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := coordinator.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Sync jobs still running at shutdown")
			}
			logger.Info("Sync worker exited")
			return
		}
	}
}

// prune drops terminal jobs and stale token metadata past retention.
func prune(ctx context.Context, jobRepo *storage.SyncJobRepository, tokenRepo *storage.TokenRepository, logger *logging.Logger) {
	if n, err := jobRepo.DeleteOlderThan(ctx, time.Now().Add(-jobRetention)); err != nil {
		logger.WithError(err).Warn("Failed to prune sync jobs")
	} else if n > 0 {
		logger.WithField("jobs", n).Info("Pruned terminal sync jobs")
	}

	if n, err := tokenRepo.Cleanup(ctx, time.Now().Add(-metadataRetention)); err != nil {
		logger.WithError(err).Warn("Failed to prune token metadata")
	} else if n > 0 {
		logger.WithField("tokens", n).Info("Pruned stale token metadata")
	}
}
