// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/storage"
	"github.com/cardano-wallet-scanner/internal/types"
)

// Service interfaces for dependency injection and testing

// SyncCoordinator accepts sync jobs and reports their status.
type SyncCoordinator interface {
	CreateJob(ctx context.Context, userID, walletAddress string, fullResync bool) (*models.SyncJob, error)
	GetJobStatus(ctx context.Context, jobID string) (*types.JobStatusResponse, error)
}

// TransactionReader serves persisted wallet transaction history.
type TransactionReader interface {
	FindByUser(ctx context.Context, userID, walletAddress string, filters *storage.TransactionFilters) ([]*models.WalletTransaction, error)
	FindByTxHash(ctx context.Context, userID, txHash string) (*models.WalletTransaction, error)
	CountByUser(ctx context.Context, userID, walletAddress string) (uint64, error)
}

// ChainReader serves live chain state for a wallet.
type ChainReader interface {
	FetchAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error)
	ValidateAddress(address string) bool
}

// TokenReader resolves token metadata for a single unit.
type TokenReader interface {
	GetTokenInfo(ctx context.Context, unit string) (*types.TokenInfo, error)
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	coordinator SyncCoordinator
	txReader    TransactionReader
	chain       ChainReader
	tokens      TokenReader
	config      *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	coordinator SyncCoordinator,
	txReader TransactionReader,
	chain ChainReader,
	tokens TokenReader,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		coordinator: coordinator,
		txReader:    txReader,
		chain:       chain,
		tokens:      tokens,
		config:      config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec)

	// Middleware order matters: logging wraps everything, rate limiting
	// runs after CORS so preflights stay cheap.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Sync endpoints
	api.HandleFunc("/wallets/{address}/sync", s.handleStartSync).Methods("POST")
	api.HandleFunc("/sync/jobs/{jobID}", s.handleGetJobStatus).Methods("GET")

	// Wallet history endpoints
	api.HandleFunc("/wallets/{address}/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/wallets/{address}/transactions/{hash}", s.handleGetTransaction).Methods("GET")
	api.HandleFunc("/wallets/{address}/utxos", s.handleGetUTXOs).Methods("GET")

	// Token metadata endpoints
	api.HandleFunc("/tokens/{unit}", s.handleGetToken).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cardano-wallet-scanner",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithFields(map[string]interface{}{
		"addr": s.httpServer.Addr,
	}).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the configured router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
