package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/types"
)

// WalletTransactionRepository persists parsed wallet transactions in
// ClickHouse. Writes happen one page at a time during sync; reads serve
// the history API.
type WalletTransactionRepository struct {
	db *ClickHouseDB
}

// NewWalletTransactionRepository creates a new wallet transaction repository
func NewWalletTransactionRepository(db *ClickHouseDB) *WalletTransactionRepository {
	return &WalletTransactionRepository{db: db}
}

// TransactionFilters narrows FindByUser queries.
type TransactionFilters struct {
	Action    *types.TransactionAction
	Protocol  *types.Protocol
	TimeFrom  *time.Time
	TimeTo    *time.Time
	Unit      string
	SortOrder string // "asc" or "desc" by timestamp, default desc
	Limit     int
	Offset    int
}

const walletTransactionColumns = `user_id, wallet_address, tx_hash, block_height, timestamp,
	   action, protocol, flows, net_ada_change, input_count, output_count`

// SaveBatch inserts one page of wallet transactions as a single batch.
// The caller only advances its sync cursor after this returns nil.
func (r *WalletTransactionRepository) SaveBatch(ctx context.Context, txs []*models.WalletTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO wallet_transactions (
			user_id, wallet_address, tx_hash, block_height, timestamp,
			action, protocol, flows, net_ada_change, input_count, output_count
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, tx := range txs {
		flowsJSON, err := json.Marshal(tx.Flows)
		if err != nil {
			return fmt.Errorf("failed to marshal flows for tx %s: %w", tx.TxHash, err)
		}

		protocol := ""
		if tx.Protocol != nil {
			protocol = string(*tx.Protocol)
		}

		err = batch.Append(
			tx.UserID,
			tx.WalletAddress,
			tx.TxHash,
			tx.BlockHeight,
			tx.Timestamp,
			string(tx.Action),
			protocol,
			string(flowsJSON),
			tx.NetADAChangeString(),
			int32(tx.InputCount),
			int32(tx.OutputCount),
		)
		if err != nil {
			return fmt.Errorf("failed to append transaction %s to batch: %w", tx.TxHash, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// FindByUser retrieves a user's wallet transactions with filters applied.
func (r *WalletTransactionRepository) FindByUser(ctx context.Context, userID, walletAddress string, filters *TransactionFilters) ([]*models.WalletTransaction, error) {
	query := `
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions FINAL
		WHERE user_id = ? AND wallet_address = ?
	`
	args := []any{userID, walletAddress}

	if filters != nil {
		if filters.Action != nil {
			query += " AND action = ?"
			args = append(args, string(*filters.Action))
		}
		if filters.Protocol != nil {
			query += " AND protocol = ?"
			args = append(args, string(*filters.Protocol))
		}
		if filters.TimeFrom != nil {
			query += " AND timestamp >= ?"
			args = append(args, *filters.TimeFrom)
		}
		if filters.TimeTo != nil {
			query += " AND timestamp <= ?"
			args = append(args, *filters.TimeTo)
		}
		if filters.Unit != "" {
			query += ` AND flows LIKE concat('%"unit":"', ?, '"%')`
			args = append(args, filters.Unit)
		}
	}

	orderBy := " ORDER BY timestamp DESC, tx_hash DESC"
	if filters != nil && filters.SortOrder == "asc" {
		orderBy = " ORDER BY timestamp ASC, tx_hash ASC"
	}
	query += orderBy

	if filters != nil {
		if filters.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filters.Limit)
		}
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.WalletTransaction
	for rows.Next() {
		tx, err := scanWalletTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet transactions: %w", err)
	}

	return out, nil
}

// FindByTxHash retrieves one wallet transaction for a user, or nil when
// the hash is unknown.
func (r *WalletTransactionRepository) FindByTxHash(ctx context.Context, userID, txHash string) (*models.WalletTransaction, error) {
	query := `
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions FINAL
		WHERE user_id = ? AND tx_hash = ?
		LIMIT 1
	`

	row := r.db.Conn().QueryRow(ctx, query, userID, txHash)
	tx, err := scanWalletTransaction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet transaction by hash: %w", err)
	}
	return tx, nil
}

// GetLatestBlockHeight returns the highest persisted block height for a
// wallet, or zero when the wallet has no history yet.
func (r *WalletTransactionRepository) GetLatestBlockHeight(ctx context.Context, userID, walletAddress string) (uint64, error) {
	query := `
		SELECT max(block_height)
		FROM wallet_transactions
		WHERE user_id = ? AND wallet_address = ?
	`

	var height uint64
	if err := r.db.Conn().QueryRow(ctx, query, userID, walletAddress).Scan(&height); err != nil {
		return 0, fmt.Errorf("failed to get latest block height: %w", err)
	}
	return height, nil
}

// CountByUser returns how many transactions a wallet has on record.
func (r *WalletTransactionRepository) CountByUser(ctx context.Context, userID, walletAddress string) (uint64, error) {
	query := `
		SELECT count()
		FROM wallet_transactions FINAL
		WHERE user_id = ? AND wallet_address = ?
	`

	var count uint64
	if err := r.db.Conn().QueryRow(ctx, query, userID, walletAddress).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count wallet transactions: %w", err)
	}
	return count, nil
}

// DeleteByUser removes a wallet's entire history. Used by full resyncs
// before rebuilding from block zero.
func (r *WalletTransactionRepository) DeleteByUser(ctx context.Context, userID, walletAddress string) error {
	query := `DELETE FROM wallet_transactions WHERE user_id = ? AND wallet_address = ?`
	if err := r.db.Conn().Exec(ctx, query, userID, walletAddress); err != nil {
		return fmt.Errorf("failed to delete wallet transactions: %w", err)
	}
	return nil
}

// scanWalletTransaction reads one row in column order.
func scanWalletTransaction(scan func(dest ...any) error) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	var action, protocol, flowsJSON, netADAChange string
	var inputCount, outputCount int32

	err := scan(
		&tx.UserID,
		&tx.WalletAddress,
		&tx.TxHash,
		&tx.BlockHeight,
		&tx.Timestamp,
		&action,
		&protocol,
		&flowsJSON,
		&netADAChange,
		&inputCount,
		&outputCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet transaction: %w", err)
	}

	tx.Action = types.TransactionAction(action)
	if protocol != "" {
		p := types.Protocol(protocol)
		tx.Protocol = &p
	}
	if flowsJSON != "" && flowsJSON != "[]" {
		if err := json.Unmarshal([]byte(flowsJSON), &tx.Flows); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flows: %w", err)
		}
	}
	net, ok := new(big.Int).SetString(netADAChange, 10)
	if !ok {
		net = big.NewInt(0)
	}
	tx.NetADAChange = net
	tx.InputCount = int(inputCount)
	tx.OutputCount = int(outputCount)

	return &tx, nil
}
