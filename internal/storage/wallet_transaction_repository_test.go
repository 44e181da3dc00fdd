// Integration tests for the wallet transaction repository. They need a
// reachable ClickHouse: go test -v ./internal/storage -run TestWalletTransactionRepository
package storage

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/config"
)

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func newTestClickHouseDB(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	_ = godotenv.Load("../../.env")
	if os.Getenv("CLICKHOUSE_HOST") == "" {
		t.Skip("CLICKHOUSE_HOST not set, skipping integration test")
	}

	cfg := &config.ClickHouseConfig{
		Host:     os.Getenv("CLICKHOUSE_HOST"),
		Port:     envOrDefault("CLICKHOUSE_PORT", "9000"),
		Database: envOrDefault("CLICKHOUSE_DB", "wallet_scanner"),
		User:     envOrDefault("CLICKHOUSE_USER", "default"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
	}

	db, err := NewClickHouseDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema(context.Background()))
	return db
}

func TestWalletTransactionRepositoryFindByTxHashMiss(t *testing.T) {
	db := newTestClickHouseDB(t)
	repo := NewWalletTransactionRepository(db)

	// An unknown hash is a miss, not an error. The API layer relies on
	// the nil return to answer 404 instead of 500.
	tx, err := repo.FindByTxHash(context.Background(), "user-none", "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	require.Nil(t, tx)
}
