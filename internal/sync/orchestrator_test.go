package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/adapter"
	"github.com/cardano-wallet-scanner/internal/engine"
	"github.com/cardano-wallet-scanner/internal/job"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/retry"
	"github.com/cardano-wallet-scanner/internal/types"
)

const (
	testUserID = "user-1"
	testWallet = "addr1qsyncwalletxyz"
)

// fakeSource serves a fixed ledger of transactions in fixed-size pages.
type fakeSource struct {
	pageSize   int
	refs       []adapter.TxRef
	txs        map[string]*types.RawTransaction
	pageCalls  int
	pageErrs   map[int]error // page number -> error returned once
	detailErrs int           // remaining FetchTransactionDetails failures
}

func (s *fakeSource) FetchAddressTxPage(_ context.Context, _ string, fromBlock uint64, page int) ([]adapter.TxRef, error) {
	s.pageCalls++
	if err, ok := s.pageErrs[page]; ok {
		delete(s.pageErrs, page)
		return nil, err
	}

	var filtered []adapter.TxRef
	for _, ref := range s.refs {
		if ref.BlockHeight >= fromBlock {
			filtered = append(filtered, ref)
		}
	}
	start := (page - 1) * s.pageSize
	if start >= len(filtered) {
		return nil, nil
	}
	end := start + s.pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func (s *fakeSource) FetchTransactionDetails(_ context.Context, hashes []string) ([]*types.RawTransaction, error) {
	if s.detailErrs > 0 {
		s.detailErrs--
		return nil, adapter.ErrProviderUnavailable
	}
	out := make([]*types.RawTransaction, 0, len(hashes))
	for _, hash := range hashes {
		tx, ok := s.txs[hash]
		if !ok {
			return nil, adapter.ErrTransactionNotFound
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *fakeSource) FetchAddressUTXOs(_ context.Context, _ string) ([]types.UTXO, error) {
	return nil, nil
}

func (s *fakeSource) GetCurrentBlockHeight(_ context.Context) (uint64, error) {
	return 10_000_000, nil
}

func (s *fakeSource) ValidateAddress(address string) bool {
	return address == testWallet
}

// memoryTxStore keeps saved records in memory and can fail on demand.
type memoryTxStore struct {
	saved     []*models.WalletTransaction
	saveErrs  int // remaining SaveBatch failures
	deleted   int
	saveCalls int
}

func (s *memoryTxStore) SaveBatch(_ context.Context, txs []*models.WalletTransaction) error {
	s.saveCalls++
	if s.saveErrs > 0 {
		s.saveErrs--
		return fmt.Errorf("clickhouse write timeout")
	}
	s.saved = append(s.saved, txs...)
	return nil
}

func (s *memoryTxStore) DeleteByUser(_ context.Context, _, _ string) error {
	s.deleted++
	s.saved = nil
	return nil
}

type memoryCursorStore struct {
	cursor *types.SyncCursor
}

func (s *memoryCursorStore) Get(_ context.Context, _, _ string) (*types.SyncCursor, error) {
	return s.cursor, nil
}

func (s *memoryCursorStore) Upsert(_ context.Context, cursor *types.SyncCursor) error {
	s.cursor = cursor
	return nil
}

func (s *memoryCursorStore) Delete(_ context.Context, _, _ string) error {
	s.cursor = nil
	return nil
}

// receiveTxAt builds a transaction sending 2 ADA to the wallet.
func receiveTxAt(hash string, blockHeight uint64) *types.RawTransaction {
	return &types.RawTransaction{
		Hash:        hash,
		BlockHeight: blockHeight,
		BlockTime:   1700000000 + int64(blockHeight),
		Fee:         "170000",
		Inputs: []types.TxInput{
			{Address: "addr1qsomeoneelse", Amounts: []types.AssetAmount{{Unit: types.LovelaceUnit, Quantity: "5000000"}}},
		},
		Outputs: []types.TxOutput{
			{Address: testWallet, Amounts: []types.AssetAmount{{Unit: types.LovelaceUnit, Quantity: "2000000"}}},
			{Address: "addr1qsomeoneelse", Amounts: []types.AssetAmount{{Unit: types.LovelaceUnit, Quantity: "2830000"}}, Index: 1},
		},
	}
}

// ledgerOf builds a fake source holding n sequential transactions at
// block heights 100, 200, 300, ...
func ledgerOf(n, pageSize int) *fakeSource {
	source := &fakeSource{
		pageSize: pageSize,
		txs:      make(map[string]*types.RawTransaction),
		pageErrs: make(map[int]error),
	}
	for i := 0; i < n; i++ {
		hash := fmt.Sprintf("tx%03d", i)
		height := uint64((i + 1) * 100)
		source.refs = append(source.refs, adapter.TxRef{
			TxHash:      hash,
			BlockHeight: height,
			BlockIndex:  0,
			BlockTime:   1700000000 + int64(height),
		})
		source.txs[hash] = receiveTxAt(hash, height)
	}
	return source
}

func fastRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestJob(fullResync bool) *models.SyncJob {
	return &models.SyncJob{
		JobID:         "job-1",
		UserID:        testUserID,
		WalletAddress: testWallet,
		FullResync:    fullResync,
		State:         types.JobProcessing,
		CreatedAt:     time.Now().UTC(),
	}
}

func noProgress(_, _ int, _ int64) {}

func TestRunSyncsFullHistory(t *testing.T) {
	source := ledgerOf(5, 2)
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	var lastPages int
	var lastTotal int64
	err := orch.Run(context.Background(), newTestJob(false), func(pages, _ int, total int64) {
		lastPages = pages
		lastTotal = total
	})
	require.NoError(t, err)

	assert.Len(t, txStore.saved, 5)
	assert.Equal(t, 3, lastPages)
	assert.Equal(t, int64(5), lastTotal)
	for _, record := range txStore.saved {
		assert.Equal(t, testUserID, record.UserID)
		assert.Equal(t, types.ActionReceive, record.Action)
	}

	require.NotNil(t, cursorStore.cursor)
	assert.Equal(t, uint64(500), cursorStore.cursor.LastSyncedBlockHeight)
	assert.Equal(t, testWallet, cursorStore.cursor.WalletAddress)
}

func TestRunResumesFromCursor(t *testing.T) {
	source := ledgerOf(5, 2)
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{
		cursor: &types.SyncCursor{
			UserID:                testUserID,
			WalletAddress:         testWallet,
			LastSyncedBlockHeight: 300,
			LastSyncedAt:          time.Now().UTC(),
		},
	}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	err := orch.Run(context.Background(), newTestJob(false), noProgress)
	require.NoError(t, err)

	// Only the two transactions above block 300 are fetched.
	require.Len(t, txStore.saved, 2)
	assert.Equal(t, "tx003", txStore.saved[0].TxHash)
	assert.Equal(t, "tx004", txStore.saved[1].TxHash)
	assert.Equal(t, uint64(500), cursorStore.cursor.LastSyncedBlockHeight)
}

func TestRunCursorUnchangedWhenPersistFails(t *testing.T) {
	source := ledgerOf(4, 2)
	txStore := &memoryTxStore{saveErrs: 10} // fails beyond the retry budget
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	err := orch.Run(context.Background(), newTestJob(false), noProgress)
	require.Error(t, err)
	assert.Nil(t, cursorStore.cursor)
	assert.Empty(t, txStore.saved)

	// The next run starts over from genesis and succeeds.
	txStore.saveErrs = 0
	err = orch.Run(context.Background(), newTestJob(false), noProgress)
	require.NoError(t, err)
	assert.Len(t, txStore.saved, 4)
	require.NotNil(t, cursorStore.cursor)
	assert.Equal(t, uint64(400), cursorStore.cursor.LastSyncedBlockHeight)
}

func TestRunPartialFailureKeepsPersistedPages(t *testing.T) {
	source := ledgerOf(6, 2)
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	// Page 3 fails every attempt on the first run.
	failing := adapter.NewSourceError("test", "page", adapter.ErrProviderUnavailable, nil)
	source.pageErrs[3] = failing
	orch.retryCfg = &retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := orch.Run(context.Background(), newTestJob(false), noProgress)
	require.Error(t, err)

	// Pages 1 and 2 were persisted and the cursor reflects them.
	assert.Len(t, txStore.saved, 4)
	require.NotNil(t, cursorStore.cursor)
	assert.Equal(t, uint64(400), cursorStore.cursor.LastSyncedBlockHeight)

	// The retry resumes above the cursor instead of refetching.
	orch.retryCfg = fastRetry()
	err = orch.Run(context.Background(), newTestJob(false), noProgress)
	require.NoError(t, err)
	assert.Len(t, txStore.saved, 6)
	assert.Equal(t, uint64(600), cursorStore.cursor.LastSyncedBlockHeight)
}

func TestRunRetriesTransientProviderFailures(t *testing.T) {
	source := ledgerOf(3, 5)
	source.detailErrs = 2 // first two detail fetches fail, third succeeds
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	err := orch.Run(context.Background(), newTestJob(false), noProgress)
	require.NoError(t, err)
	assert.Len(t, txStore.saved, 3)
}

func TestRunFullResyncClearsHistory(t *testing.T) {
	source := ledgerOf(3, 5)
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	require.NoError(t, orch.Run(context.Background(), newTestJob(false), noProgress))
	require.Len(t, txStore.saved, 3)
	require.NotNil(t, cursorStore.cursor)

	// Full resync wipes history and cursor, then replays everything.
	require.NoError(t, orch.Run(context.Background(), newTestJob(true), noProgress))
	assert.Equal(t, 1, txStore.deleted)
	assert.Len(t, txStore.saved, 3)
	assert.Equal(t, uint64(300), cursorStore.cursor.LastSyncedBlockHeight)
}

func TestRunInvalidAddress(t *testing.T) {
	source := ledgerOf(0, 5)
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), &memoryTxStore{}, &memoryCursorStore{}, fastRetry())

	badJob := newTestJob(false)
	badJob.WalletAddress = "not-an-address"
	err := orch.Run(context.Background(), badJob, noProgress)
	require.Error(t, err)
	assert.Zero(t, source.pageCalls)
}

func TestRunSkipsMalformedTransactions(t *testing.T) {
	source := ledgerOf(3, 5)
	bad := source.txs["tx001"]
	bad.Outputs[0].Amounts[0].Quantity = "not-a-number"
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	err := orch.Run(context.Background(), newTestJob(false), noProgress)
	require.NoError(t, err)

	// The malformed transaction is skipped, the rest of the page lands.
	require.Len(t, txStore.saved, 2)
	for _, record := range txStore.saved {
		assert.NotEqual(t, "tx001", record.TxHash)
	}
	// The cursor still covers the skipped transaction's block.
	assert.Equal(t, uint64(300), cursorStore.cursor.LastSyncedBlockHeight)
}

func TestRunEmptyWalletCompletes(t *testing.T) {
	source := ledgerOf(0, 5)
	txStore := &memoryTxStore{}
	cursorStore := &memoryCursorStore{}
	orch := NewOrchestrator(source, engine.NewParser(nil, nil), txStore, cursorStore, fastRetry())

	var runner job.SyncRunner = orch
	err := runner.Run(context.Background(), newTestJob(false), noProgress)
	require.NoError(t, err)
	assert.Empty(t, txStore.saved)
	assert.Nil(t, cursorStore.cursor)
}
