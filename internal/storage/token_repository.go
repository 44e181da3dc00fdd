package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardano-wallet-scanner/internal/types"
)

// TokenRepository persists resolved token metadata in Postgres. It is
// the durable tier behind the token registry's Redis cache.
type TokenRepository struct {
	db *PostgresDB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *PostgresDB) *TokenRepository {
	return &TokenRepository{db: db}
}

// FindByUnit retrieves one token by unit, or nil when unknown.
func (r *TokenRepository) FindByUnit(ctx context.Context, unit string) (*types.TokenInfo, error) {
	query := `
		SELECT unit, policy_id, asset_name, fingerprint, decimals, display_name, ticker
		FROM tokens
		WHERE unit = $1
	`

	var info types.TokenInfo
	err := r.db.Pool().QueryRow(ctx, query, unit).Scan(
		&info.Unit,
		&info.PolicyID,
		&info.AssetName,
		&info.Fingerprint,
		&info.Decimals,
		&info.DisplayName,
		&info.Ticker,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &info, nil
}

// FindByUnits retrieves tokens for a set of units, keyed by unit. Units
// without a row are simply absent from the result.
func (r *TokenRepository) FindByUnits(ctx context.Context, units []string) (map[string]*types.TokenInfo, error) {
	out := make(map[string]*types.TokenInfo, len(units))
	if len(units) == 0 {
		return out, nil
	}

	query := `
		SELECT unit, policy_id, asset_name, fingerprint, decimals, display_name, ticker
		FROM tokens
		WHERE unit = ANY($1)
	`

	rows, err := r.db.Pool().Query(ctx, query, units)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info types.TokenInfo
		err := rows.Scan(
			&info.Unit,
			&info.PolicyID,
			&info.AssetName,
			&info.Fingerprint,
			&info.Decimals,
			&info.DisplayName,
			&info.Ticker,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		out[info.Unit] = &info
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return out, nil
}

// FindByPolicy retrieves every token minted under one policy.
func (r *TokenRepository) FindByPolicy(ctx context.Context, policyID string) ([]*types.TokenInfo, error) {
	query := `
		SELECT unit, policy_id, asset_name, fingerprint, decimals, display_name, ticker
		FROM tokens
		WHERE policy_id = $1
		ORDER BY unit
	`

	rows, err := r.db.Pool().Query(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by policy: %w", err)
	}
	defer rows.Close()

	var out []*types.TokenInfo
	for rows.Next() {
		var info types.TokenInfo
		err := rows.Scan(
			&info.Unit,
			&info.PolicyID,
			&info.AssetName,
			&info.Fingerprint,
			&info.Decimals,
			&info.DisplayName,
			&info.Ticker,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		out = append(out, &info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return out, nil
}

// Save upserts one token.
func (r *TokenRepository) Save(ctx context.Context, info *types.TokenInfo) error {
	return r.SaveBatch(ctx, []*types.TokenInfo{info})
}

// SaveBatch upserts a batch of tokens, refreshing updated_at so Cleanup
// can age out stale metadata.
func (r *TokenRepository) SaveBatch(ctx context.Context, infos []*types.TokenInfo) error {
	if len(infos) == 0 {
		return nil
	}

	query := `
		INSERT INTO tokens (unit, policy_id, asset_name, fingerprint, decimals, display_name, ticker, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (unit)
		DO UPDATE SET
			policy_id = EXCLUDED.policy_id,
			asset_name = EXCLUDED.asset_name,
			fingerprint = EXCLUDED.fingerprint,
			decimals = EXCLUDED.decimals,
			display_name = EXCLUDED.display_name,
			ticker = EXCLUDED.ticker,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	for _, info := range infos {
		_, err := r.db.Pool().Exec(ctx, query,
			info.Unit,
			info.PolicyID,
			info.AssetName,
			info.Fingerprint,
			info.Decimals,
			info.DisplayName,
			info.Ticker,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to save token %s: %w", info.Unit, err)
		}
	}
	return nil
}

// Delete removes one token.
func (r *TokenRepository) Delete(ctx context.Context, unit string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM tokens WHERE unit = $1`, unit)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Cleanup removes tokens not refreshed since the given time and returns
// how many rows were dropped.
func (r *TokenRepository) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM tokens WHERE updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
