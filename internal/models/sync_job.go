package models

import (
	"time"

	"github.com/cardano-wallet-scanner/internal/types"
)

// SyncJob represents one sync invocation for a wallet. At most one job
// per wallet may be in a non-terminal state at any time.
type SyncJob struct {
	JobID          string             `json:"jobId" db:"job_id"`
	UserID         string             `json:"userId" db:"user_id"`
	WalletAddress  string             `json:"walletAddress" db:"wallet_address"`
	State          types.SyncJobState `json:"state" db:"state"`
	FullResync     bool               `json:"fullResync" db:"full_resync"`
	Progress       float64            `json:"progress" db:"progress"` // 0..100, monotonically non-decreasing
	PagesProcessed int                `json:"pagesProcessed" db:"pages_processed"`
	PagesEstimated int                `json:"pagesEstimated" db:"pages_estimated"`
	TxCount        int64              `json:"txCount" db:"tx_count"`
	Error          *string            `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
	StartedAt      *time.Time         `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty" db:"completed_at"`
}
