package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/logging"
)

// syncAcceptedResponse is returned when a sync job is accepted.
type syncAcceptedResponse struct {
	JobID         string `json:"jobId"`
	WalletAddress string `json:"walletAddress"`
	State         string `json:"state"`
	FullResync    bool   `json:"fullResync"`
}

// handleStartSync handles POST /api/v1/wallets/{address}/sync. A wallet
// with an active job answers 409 carrying that job's id; a fresh request
// answers 202 with the new job.
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
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

	if !s.chain.ValidateAddress(address) {
		respondCategorizedError(w, errors.NewInvalidAddressError(address))
		return
	}

	fullResync := r.URL.Query().Get("full") == "true"

	job, err := s.coordinator.CreateJob(r.Context(), userID, address, fullResync)
	if err != nil {
		if !errors.IsConflict(err) {
			logging.FromContext(r.Context()).WithError(err).Error("Failed to create sync job")
		}
		respondCategorizedError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, syncAcceptedResponse{
		JobID:         job.JobID,
		WalletAddress: job.WalletAddress,
		State:         string(job.State),
		FullResync:    job.FullResync,
	})
}

// handleGetJobStatus handles GET /api/v1/sync/jobs/{jobID}.
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if jobID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Job ID required", nil)
		return
	}

	status, err := s.coordinator.GetJobStatus(r.Context(), jobID)
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}
