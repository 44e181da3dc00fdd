package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/logging"
)

// handleGetToken handles GET /api/v1/tokens/{unit}, resolving metadata
// for a single asset unit through the token registry.
func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	unit := mux.Vars(r)["unit"]
	if unit == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Asset unit required", nil)
		return
	}

	info, err := s.tokens.GetTokenInfo(r.Context(), unit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("unit", unit).
			Error("Token metadata resolution failed")
		respondCategorizedError(w, err)
		return
	}
	if info == nil {
		respondCategorizedError(w, errors.NewNotFoundError("token", unit))
		return
	}

	respondJSON(w, http.StatusOK, info)
}
