package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/types"
)

// SyncJobRepository persists sync job records in Postgres. A partial
// unique index on (user_id, wallet_address) over non-terminal states
// backs the one-active-job-per-wallet rule, so concurrent creates race
// safely in the database as well as in the coordinator.
type SyncJobRepository struct {
	db *PostgresDB
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db *PostgresDB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

const syncJobColumns = `job_id, user_id, wallet_address, state, full_resync, progress,
	   pages_processed, pages_estimated, tx_count, error, created_at, started_at, completed_at`

// Create inserts a new job record.
func (r *SyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (
			job_id, user_id, wallet_address, state, full_resync, progress,
			pages_processed, pages_estimated, tx_count, error, created_at, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.JobID,
		job.UserID,
		job.WalletAddress,
		string(job.State),
		job.FullResync,
		job.Progress,
		job.PagesProcessed,
		job.PagesEstimated,
		job.TxCount,
		job.Error,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// GetByID retrieves one job, or nil when unknown.
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE job_id = $1
	`

	job, err := scanSyncJob(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return job, nil
}

// GetActiveByWallet retrieves the wallet's non-terminal job, or nil when
// no sync is running.
func (r *SyncJobRepository) GetActiveByWallet(ctx context.Context, userID, walletAddress string) (*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE user_id = $1 AND wallet_address = $2 AND state IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := scanSyncJob(r.db.Pool().QueryRow(ctx, query,
		userID, walletAddress, string(types.JobQueued), string(types.JobProcessing)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active sync job: %w", err)
	}
	return job, nil
}

// Update rewrites the mutable fields of a job.
func (r *SyncJobRepository) Update(ctx context.Context, job *models.SyncJob) error {
	query := `
		UPDATE sync_jobs
		SET state = $2, progress = $3, pages_processed = $4, pages_estimated = $5,
			tx_count = $6, error = $7, started_at = $8, completed_at = $9
		WHERE job_id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		job.JobID,
		string(job.State),
		job.Progress,
		job.PagesProcessed,
		job.PagesEstimated,
		job.TxCount,
		job.Error,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync job %s not found", job.JobID)
	}
	return nil
}

// ClaimQueued transitions a queued job to processing. Returns false when
// the job is no longer queued, which means another process claimed it
// first. The conditional UPDATE is what keeps adoption single-winner
// when several processes resume queued jobs against the same store.
func (r *SyncJobRepository) ClaimQueued(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET state = $2, started_at = $3
		WHERE job_id = $1 AND state = $4
	`

	result, err := r.db.Pool().Exec(ctx, query,
		jobID, string(types.JobProcessing), startedAt, string(types.JobQueued))
	if err != nil {
		return false, fmt.Errorf("failed to claim sync job: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListByWallet retrieves a wallet's jobs, newest first.
func (r *SyncJobRepository) ListByWallet(ctx context.Context, userID, walletAddress string, limit int) ([]*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE user_id = $1 AND wallet_address = $2
		ORDER BY created_at DESC
	`
	args := []any{userID, walletAddress}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync jobs: %w", err)
	}
	return jobs, nil
}

// ListByState retrieves jobs in one state, oldest first. Used by the
// worker to adopt queued jobs left behind by a crashed process.
func (r *SyncJobRepository) ListByState(ctx context.Context, state types.SyncJobState, limit int) ([]*models.SyncJob, error) {
	query := `
		SELECT ` + syncJobColumns + `
		FROM sync_jobs
		WHERE state = $1
		ORDER BY created_at ASC
	`
	args := []any{string(state)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync jobs: %w", err)
	}
	return jobs, nil
}

// DeleteOlderThan prunes terminal jobs finished before the given time.
func (r *SyncJobRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM sync_jobs
		WHERE state IN ($1, $2) AND completed_at < $3
	`

	result, err := r.db.Pool().Exec(ctx, query,
		string(types.JobCompleted), string(types.JobFailed), olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncJob(row rowScanner) (*models.SyncJob, error) {
	var job models.SyncJob
	var state string

	err := row.Scan(
		&job.JobID,
		&job.UserID,
		&job.WalletAddress,
		&state,
		&job.FullResync,
		&job.Progress,
		&job.PagesProcessed,
		&job.PagesEstimated,
		&job.TxCount,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.State = types.SyncJobState(state)
	return &job, nil
}
