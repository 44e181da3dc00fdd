package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/storage"
	"github.com/cardano-wallet-scanner/internal/types"
)

const (
	testUserID = "user-1"
	testWallet = "addr1qapiwalletxyz"
)

type stubCoordinator struct {
	createJob   *models.SyncJob
	createErr   error
	status      *types.JobStatusResponse
	statusErr   error
	lastFull    bool
	lastAddress string
}

func (c *stubCoordinator) CreateJob(_ context.Context, _, walletAddress string, fullResync bool) (*models.SyncJob, error) {
	c.lastAddress = walletAddress
	c.lastFull = fullResync
	return c.createJob, c.createErr
}

func (c *stubCoordinator) GetJobStatus(_ context.Context, jobID string) (*types.JobStatusResponse, error) {
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	if c.status == nil || c.status.JobID != jobID {
		return nil, errors.NewNotFoundError("sync job", jobID)
	}
	return c.status, nil
}

type stubTxReader struct {
	txs         []*models.WalletTransaction
	total       uint64
	lastFilters *storage.TransactionFilters
	err         error
}

func (r *stubTxReader) FindByUser(_ context.Context, _, _ string, filters *storage.TransactionFilters) ([]*models.WalletTransaction, error) {
	r.lastFilters = filters
	return r.txs, r.err
}

func (r *stubTxReader) FindByTxHash(_ context.Context, _, txHash string) (*models.WalletTransaction, error) {
	for _, tx := range r.txs {
		if tx.TxHash == txHash {
			return tx, nil
		}
	}
	return nil, r.err
}

func (r *stubTxReader) CountByUser(_ context.Context, _, _ string) (uint64, error) {
	return r.total, r.err
}

type stubChain struct {
	utxos []types.UTXO
	err   error
}

func (c *stubChain) FetchAddressUTXOs(_ context.Context, _ string) ([]types.UTXO, error) {
	return c.utxos, c.err
}

func (c *stubChain) ValidateAddress(address string) bool {
	return strings.HasPrefix(address, "addr1")
}

type stubTokens struct {
	infos map[string]*types.TokenInfo
	err   error
}

func (t *stubTokens) GetTokenInfo(_ context.Context, unit string) (*types.TokenInfo, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.infos[unit], nil
}

type serverStubs struct {
	coordinator *stubCoordinator
	txReader    *stubTxReader
	chain       *stubChain
	tokens      *stubTokens
}

func newTestServer(t *testing.T) (*Server, *serverStubs) {
	t.Helper()
	stubs := &serverStubs{
		coordinator: &stubCoordinator{},
		txReader:    &stubTxReader{},
		chain:       &stubChain{},
		tokens:      &stubTokens{infos: make(map[string]*types.TokenInfo)},
	}
	server := NewServer(&ServerConfig{
		Host:           "127.0.0.1",
		Port:           "0",
		RequestsPerSec: 1000,
	}, stubs.coordinator, stubs.txReader, stubs.chain, stubs.tokens)
	return server, stubs
}

func doRequest(t *testing.T, server *Server, method, path string, withUser bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if withUser {
		req.Header.Set("X-User-ID", testUserID)
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestStartSync(t *testing.T) {
	t.Run("accepts a new sync job", func(t *testing.T) {
		server, stubs := newTestServer(t)
		stubs.coordinator.createJob = &models.SyncJob{
			JobID:         "job-123",
			UserID:        testUserID,
			WalletAddress: testWallet,
			State:         types.JobQueued,
			FullResync:    true,
		}

		rec := doRequest(t, server, "POST", "/api/v1/wallets/"+testWallet+"/sync?full=true", true)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var body syncAcceptedResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "job-123", body.JobID)
		assert.Equal(t, "queued", body.State)
		assert.True(t, body.FullResync)
		assert.True(t, stubs.coordinator.lastFull)
	})

	t.Run("conflict names the active job", func(t *testing.T) {
		server, stubs := newTestServer(t)
		stubs.coordinator.createJob = &models.SyncJob{JobID: "job-active"}
		stubs.coordinator.createErr = errors.NewSyncInProgressError(testWallet, "job-active")

		rec := doRequest(t, server, "POST", "/api/v1/wallets/"+testWallet+"/sync", true)
		assert.Equal(t, http.StatusConflict, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "SYNC_IN_PROGRESS", body.Error.Code)
		assert.Equal(t, "job-active", body.Error.Details["jobId"])
	})

	t.Run("rejects invalid address", func(t *testing.T) {
		server, _ := newTestServer(t)
		rec := doRequest(t, server, "POST", "/api/v1/wallets/0xdeadbeef/sync", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires user id", func(t *testing.T) {
		server, _ := newTestServer(t)
		rec := doRequest(t, server, "POST", "/api/v1/wallets/"+testWallet+"/sync", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetJobStatus(t *testing.T) {
	server, stubs := newTestServer(t)
	progress := 42.5
	stubs.coordinator.status = &types.JobStatusResponse{
		JobID:    "job-123",
		Status:   types.JobProcessing,
		Progress: &progress,
	}

	rec := doRequest(t, server, "GET", "/api/v1/sync/jobs/job-123", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body types.JobStatusResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "job-123", body.JobID)
	assert.Equal(t, types.JobProcessing, body.Status)
	require.NotNil(t, body.Progress)
	assert.Equal(t, 42.5, *body.Progress)

	rec = doRequest(t, server, "GET", "/api/v1/sync/jobs/no-such-job", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func sampleTransaction(hash string) *models.WalletTransaction {
	return &models.WalletTransaction{
		UserID:        testUserID,
		WalletAddress: testWallet,
		TxHash:        hash,
		BlockHeight:   9000000,
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		Action:        types.ActionReceive,
		Flows: []types.WalletAssetFlow{
			{Unit: types.LovelaceUnit, NetQuantity: big.NewInt(2000000), Direction: types.DirectionIn},
		},
		NetADAChange: big.NewInt(2000000),
		InputCount:   1,
		OutputCount:  2,
	}
}

func TestGetTransactions(t *testing.T) {
	t.Run("returns a page with filters applied", func(t *testing.T) {
		server, stubs := newTestServer(t)
		stubs.txReader.txs = []*models.WalletTransaction{sampleTransaction("tx01"), sampleTransaction("tx02")}
		stubs.txReader.total = 12

		path := fmt.Sprintf("/api/v1/wallets/%s/transactions?action=receive&unit=policy00aa&from=2023-01-01T00:00:00Z&limit=2&offset=4&sortOrder=asc", testWallet)
		rec := doRequest(t, server, "GET", path, true)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body transactionListResponse
		decodeBody(t, rec, &body)
		assert.Len(t, body.Transactions, 2)
		assert.Equal(t, uint64(12), body.Total)
		assert.Equal(t, 2, body.Limit)
		assert.Equal(t, 4, body.Offset)

		filters := stubs.txReader.lastFilters
		require.NotNil(t, filters)
		require.NotNil(t, filters.Action)
		assert.Equal(t, types.ActionReceive, *filters.Action)
		assert.Equal(t, "policy00aa", filters.Unit)
		require.NotNil(t, filters.TimeFrom)
		assert.Equal(t, "asc", filters.SortOrder)
	})

	t.Run("empty history returns an empty list", func(t *testing.T) {
		server, _ := newTestServer(t)
		rec := doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/transactions", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"transactions":[]`)
	})

	t.Run("rejects malformed filters", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/transactions?from=yesterday", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/transactions?limit=-5", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/transactions?sortOrder=sideways", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTransaction(t *testing.T) {
	server, stubs := newTestServer(t)
	stubs.txReader.txs = []*models.WalletTransaction{sampleTransaction("tx01")}

	rec := doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/transactions/tx01", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body models.WalletTransaction
	decodeBody(t, rec, &body)
	assert.Equal(t, "tx01", body.TxHash)

	rec = doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/transactions/missing", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUTXOs(t *testing.T) {
	server, stubs := newTestServer(t)
	stubs.chain.utxos = []types.UTXO{
		{TxHash: "tx01", Index: 0, Amounts: []types.AssetAmount{{Unit: types.LovelaceUnit, Quantity: "5000000"}}},
	}

	rec := doRequest(t, server, "GET", "/api/v1/wallets/"+testWallet+"/utxos", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doRequest(t, server, "GET", "/api/v1/wallets/0xdeadbeef/utxos", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetToken(t *testing.T) {
	server, stubs := newTestServer(t)
	stubs.tokens.infos["policy00aa"] = &types.TokenInfo{
		Unit:        "policy00aa",
		DisplayName: "HOSKY",
		Decimals:    0,
	}

	rec := doRequest(t, server, "GET", "/api/v1/tokens/policy00aa", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body types.TokenInfo
	decodeBody(t, rec, &body)
	assert.Equal(t, "HOSKY", body.DisplayName)

	rec = doRequest(t, server, "GET", "/api/v1/tokens/unknown", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, "GET", "/health", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
