package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/storage"
	"github.com/cardano-wallet-scanner/internal/types"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// transactionListResponse wraps a page of wallet transactions.
type transactionListResponse struct {
	Transactions []*models.WalletTransaction `json:"transactions"`
	Total        uint64                      `json:"total"`
	Limit        int                         `json:"limit"`
	Offset       int                         `json:"offset"`
}

// handleGetTransactions handles GET /api/v1/wallets/{address}/transactions.
// Supports action, protocol, unit, time range, sort, and pagination
// filters.
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Wallet address required", nil)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "User ID required", nil)
		return
	}

	filters, err := parseTransactionFilters(r)
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	transactions, err := s.txReader.FindByUser(r.Context(), userID, address, filters)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to query wallet transactions")
		respondCategorizedError(w, err)
		return
	}

	total, err := s.txReader.CountByUser(r.Context(), userID, address)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to count wallet transactions")
		respondCategorizedError(w, err)
		return
	}

	if transactions == nil {
		transactions = []*models.WalletTransaction{}
	}

	respondJSON(w, http.StatusOK, transactionListResponse{
		Transactions: transactions,
		Total:        total,
		Limit:        filters.Limit,
		Offset:       filters.Offset,
	})
}

// handleGetTransaction handles GET /api/v1/wallets/{address}/transactions/{hash}.
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hash := vars["hash"]
	if hash == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Transaction hash required", nil)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "User ID required", nil)
		return
	}

	tx, err := s.txReader.FindByTxHash(r.Context(), userID, hash)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to look up transaction")
		respondCategorizedError(w, err)
		return
	}
	if tx == nil {
		respondCategorizedError(w, errors.NewNotFoundError("transaction", hash))
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

// handleGetUTXOs handles GET /api/v1/wallets/{address}/utxos, serving
// the wallet's live UTXO set straight from the chain source.
func (s *Server) handleGetUTXOs(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Wallet address required", nil)
		return
	}

	if !s.chain.ValidateAddress(address) {
		respondCategorizedError(w, errors.NewInvalidAddressError(address))
		return
	}

	utxos, err := s.chain.FetchAddressUTXOs(r.Context(), address)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to fetch UTXOs")
		respondCategorizedError(w, errors.NewProviderError("chain source", err))
		return
	}
	if utxos == nil {
		utxos = []types.UTXO{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletAddress": address,
		"utxos":         utxos,
		"count":         len(utxos),
	})
}

// parseTransactionFilters builds repository filters from query params.
func parseTransactionFilters(r *http.Request) (*storage.TransactionFilters, error) {
	query := r.URL.Query()

	filters := &storage.TransactionFilters{
		Limit:     defaultPageLimit,
		SortOrder: "desc",
	}

	if actionStr := query.Get("action"); actionStr != "" {
		action := types.TransactionAction(actionStr)
		filters.Action = &action
	}
	if protocolStr := query.Get("protocol"); protocolStr != "" {
		protocol := types.Protocol(protocolStr)
		filters.Protocol = &protocol
	}
	filters.Unit = query.Get("unit")

	if fromStr := query.Get("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return nil, errors.NewValidationError("invalid from timestamp, expected RFC3339", err)
		}
		filters.TimeFrom = &t
	}
	if toStr := query.Get("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return nil, errors.NewValidationError("invalid to timestamp, expected RFC3339", err)
		}
		filters.TimeTo = &t
	}

	if sortOrder := query.Get("sortOrder"); sortOrder != "" {
		if sortOrder != "asc" && sortOrder != "desc" {
			return nil, errors.NewValidationError("sortOrder must be asc or desc", nil)
		}
		filters.SortOrder = sortOrder
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return nil, errors.NewValidationError("limit must be a positive integer", err)
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
		filters.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return nil, errors.NewValidationError("offset must be a non-negative integer", err)
		}
		filters.Offset = offset
	}

	return filters, nil
}
