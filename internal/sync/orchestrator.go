// Package sync drives wallet history synchronization: page through the
// chain source, parse each batch, persist it, and only then advance the
// wallet's cursor. A crash or failure at any point leaves the cursor at
// the last fully persisted page, so the next run resumes safely.
package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cardano-wallet-scanner/internal/adapter"
	"github.com/cardano-wallet-scanner/internal/engine"
	apperrors "github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/job"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/retry"
	"github.com/cardano-wallet-scanner/internal/types"
)

// TransactionStore persists parsed wallet transactions.
type TransactionStore interface {
	SaveBatch(ctx context.Context, txs []*models.WalletTransaction) error
	DeleteByUser(ctx context.Context, userID, walletAddress string) error
}

// CursorStore persists per-wallet sync cursors.
type CursorStore interface {
	Get(ctx context.Context, userID, walletAddress string) (*types.SyncCursor, error)
	Upsert(ctx context.Context, cursor *types.SyncCursor) error
	Delete(ctx context.Context, userID, walletAddress string) error
}

// Orchestrator runs sync jobs end to end. It implements job.SyncRunner.
type Orchestrator struct {
	source   adapter.ChainSource
	parser   *engine.Parser
	txs      TransactionStore
	cursors  CursorStore
	retryCfg *retry.Config
}

// NewOrchestrator creates a sync orchestrator. A nil retry config uses
// the default backoff budget.
func NewOrchestrator(source adapter.ChainSource, parser *engine.Parser, txs TransactionStore, cursors CursorStore, retryCfg *retry.Config) *Orchestrator {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &Orchestrator{
		source:   source,
		parser:   parser,
		txs:      txs,
		cursors:  cursors,
		retryCfg: retryCfg,
	}
}

// Run synchronizes one wallet's transaction history. Incremental runs
// start from the block after the stored cursor; full resyncs drop the
// wallet's history and cursor first and replay from genesis.
func (o *Orchestrator) Run(ctx context.Context, syncJob *models.SyncJob, progress job.ProgressFunc) error {
	logger := logging.FromContext(ctx)

	if !o.source.ValidateAddress(syncJob.WalletAddress) {
		return apperrors.NewInvalidAddressError(syncJob.WalletAddress)
	}

	var fromBlock uint64
	if syncJob.FullResync {
		if err := o.txs.DeleteByUser(ctx, syncJob.UserID, syncJob.WalletAddress); err != nil {
			return apperrors.NewDatabaseError("delete wallet history", err)
		}
		if err := o.cursors.Delete(ctx, syncJob.UserID, syncJob.WalletAddress); err != nil {
			return apperrors.NewDatabaseError("delete sync cursor", err)
		}
		logger.Info("Full resync requested, cleared wallet history and cursor")
	} else {
		cursor, err := o.cursors.Get(ctx, syncJob.UserID, syncJob.WalletAddress)
		if err != nil {
			return apperrors.NewDatabaseError("load sync cursor", err)
		}
		if cursor != nil {
			fromBlock = cursor.LastSyncedBlockHeight + 1
		}
	}

	logger.WithFields(map[string]interface{}{
		"fromBlock":  fromBlock,
		"fullResync": syncJob.FullResync,
	}).Info("Starting wallet sync")

	var (
		totalTxs       int64
		highestBlock   uint64
		pagesEstimated = 1
	)

	for page := 1; ; page++ {
		refs, err := o.fetchPage(ctx, syncJob.WalletAddress, fromBlock, page)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			progress(page-1, page-1, totalTxs)
			break
		}

		saved, maxBlock, err := o.processPage(ctx, syncJob, refs)
		if err != nil {
			return err
		}
		totalTxs += saved
		if maxBlock > highestBlock {
			highestBlock = maxBlock
		}

		// The cursor only moves after the page is durably persisted.
		if err := o.advanceCursor(ctx, syncJob, highestBlock); err != nil {
			return err
		}

		// The source does not expose a total page count; assume at
		// least one more page until an empty one proves otherwise.
		if page+1 > pagesEstimated {
			pagesEstimated = page + 1
		}
		progress(page, pagesEstimated, totalTxs)
	}

	logger.WithFields(map[string]interface{}{
		"transactions": totalTxs,
		"highestBlock": highestBlock,
	}).Info("Wallet sync finished")

	return nil
}

// fetchPage retrieves one page of transaction references with backoff.
func (o *Orchestrator) fetchPage(ctx context.Context, address string, fromBlock uint64, page int) ([]adapter.TxRef, error) {
	var refs []adapter.TxRef
	result := retry.WithBackoff(ctx, o.retryCfg, isRetryable, func(ctx context.Context, _ int) error {
		var err error
		refs, err = o.source.FetchAddressTxPage(ctx, address, fromBlock, page)
		return err
	})
	if !result.Success {
		return nil, apperrors.NewFatalError(fmt.Sprintf("fetch transaction page %d", page), result.Attempts, result.LastError)
	}
	return refs, nil
}

// processPage fetches full transactions for one page of refs, parses
// them, and persists the survivors. Returns the number of records saved
// and the highest block height seen on the page.
func (o *Orchestrator) processPage(ctx context.Context, syncJob *models.SyncJob, refs []adapter.TxRef) (int64, uint64, error) {
	logger := logging.FromContext(ctx)

	hashes := make([]string, len(refs))
	var maxBlock uint64
	for i, ref := range refs {
		hashes[i] = ref.TxHash
		if ref.BlockHeight > maxBlock {
			maxBlock = ref.BlockHeight
		}
	}

	var raw []*types.RawTransaction
	result := retry.WithBackoff(ctx, o.retryCfg, isRetryable, func(ctx context.Context, _ int) error {
		var err error
		raw, err = o.source.FetchTransactionDetails(ctx, hashes)
		return err
	})
	if !result.Success {
		return 0, 0, apperrors.NewFatalError("fetch transaction details", result.Attempts, result.LastError)
	}

	records, failures := o.parser.ParseTransactionBatch(ctx, raw, syncJob.WalletAddress)
	for _, failure := range failures {
		logger.WithError(failure.Err).WithField("txHash", failure.TxHash).
			Warn("Skipping malformed transaction")
	}
	for _, record := range records {
		record.UserID = syncJob.UserID
	}

	if len(records) > 0 {
		result = retry.WithBackoff(ctx, o.retryCfg, isRetryable, func(ctx context.Context, _ int) error {
			return o.txs.SaveBatch(ctx, records)
		})
		if !result.Success {
			return 0, 0, apperrors.NewFatalError("persist transaction batch", result.Attempts, result.LastError)
		}
	}

	return int64(len(records)), maxBlock, nil
}

func (o *Orchestrator) advanceCursor(ctx context.Context, syncJob *models.SyncJob, blockHeight uint64) error {
	cursor := &types.SyncCursor{
		UserID:                syncJob.UserID,
		WalletAddress:         syncJob.WalletAddress,
		LastSyncedBlockHeight: blockHeight,
		LastSyncedAt:          time.Now().UTC(),
	}
	result := retry.WithBackoff(ctx, o.retryCfg, isRetryable, func(ctx context.Context, _ int) error {
		return o.cursors.Upsert(ctx, cursor)
	})
	if !result.Success {
		return apperrors.NewFatalError("advance sync cursor", result.Attempts, result.LastError)
	}
	return nil
}

// isRetryable treats provider availability and rate limit failures as
// retryable alongside the categorized transient errors.
func isRetryable(err error) bool {
	if stderrors.Is(err, adapter.ErrProviderUnavailable) || stderrors.Is(err, adapter.ErrProviderRateLimit) {
		return true
	}
	if stderrors.Is(err, adapter.ErrInvalidAddress) {
		return false
	}
	if apperrors.Categorize(err).Code == "INTERNAL_ERROR" {
		// Uncategorized errors from stores and the HTTP client are
		// assumed transient.
		return true
	}
	return apperrors.IsRetryable(err)
}

var _ job.SyncRunner = (*Orchestrator)(nil)
