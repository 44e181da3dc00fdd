package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cardano-wallet-scanner/internal/types"
)

// SyncCursorRepository persists per-wallet sync cursors in Postgres.
// The cursor records the last block height whose transactions are
// durably stored; the orchestrator only moves it forward after a page
// has been written.
type SyncCursorRepository struct {
	db *PostgresDB
}

// NewSyncCursorRepository creates a new sync cursor repository
func NewSyncCursorRepository(db *PostgresDB) *SyncCursorRepository {
	return &SyncCursorRepository{db: db}
}

// Get retrieves the cursor for a wallet, or nil when the wallet has
// never been synced.
func (r *SyncCursorRepository) Get(ctx context.Context, userID, walletAddress string) (*types.SyncCursor, error) {
	query := `
		SELECT user_id, wallet_address, last_synced_block_height, last_synced_at
		FROM sync_cursors
		WHERE user_id = $1 AND wallet_address = $2
	`

	var cursor types.SyncCursor
	err := r.db.Pool().QueryRow(ctx, query, userID, walletAddress).Scan(
		&cursor.UserID,
		&cursor.WalletAddress,
		&cursor.LastSyncedBlockHeight,
		&cursor.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return &cursor, nil
}

// Upsert creates or advances the cursor for a wallet.
func (r *SyncCursorRepository) Upsert(ctx context.Context, cursor *types.SyncCursor) error {
	query := `
		INSERT INTO sync_cursors (user_id, wallet_address, last_synced_block_height, last_synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, wallet_address)
		DO UPDATE SET
			last_synced_block_height = EXCLUDED.last_synced_block_height,
			last_synced_at = EXCLUDED.last_synced_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		cursor.UserID,
		cursor.WalletAddress,
		cursor.LastSyncedBlockHeight,
		cursor.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor for a wallet. Full resyncs call this before
// rebuilding history from block zero.
func (r *SyncCursorRepository) Delete(ctx context.Context, userID, walletAddress string) error {
	query := `DELETE FROM sync_cursors WHERE user_id = $1 AND wallet_address = $2`
	_, err := r.db.Pool().Exec(ctx, query, userID, walletAddress)
	if err != nil {
		return fmt.Errorf("failed to delete sync cursor: %w", err)
	}
	return nil
}
