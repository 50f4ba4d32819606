package portfolio

import (
	"net/http"

	"github.com/R3E-Network/defi_portfolio/internal/metrics"
)

// =============================================================================
// API Routes
// =============================================================================

// registerRoutes registers service-specific HTTP routes.
// Note: /health and /info are registered by BaseService.RegisterStandardRoutes()
func (s *Service) registerRoutes() {
	router := s.Router()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/pools", s.handleGetPools).Methods(http.MethodGet)
	router.HandleFunc("/balances/{address}", s.handleGetBalances).Methods(http.MethodGet)
	router.HandleFunc("/swap/quote", s.handleSwapQuote).Methods(http.MethodPost)

	router.HandleFunc("/sources", s.handleListSources).Methods(http.MethodGet)
	router.HandleFunc("/sources/{name}/enable", s.handleSetSourceEnabled(true)).Methods(http.MethodPost)
	router.HandleFunc("/sources/{name}/disable", s.handleSetSourceEnabled(false)).Methods(http.MethodPost)

	router.HandleFunc("/protocols", s.handleListProtocols).Methods(http.MethodGet)
	router.HandleFunc("/actions/{protocol}/deposit", s.handleDeposit).Methods(http.MethodPost)
	router.HandleFunc("/actions/{protocol}/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	router.HandleFunc("/actions/{protocol}/claim", s.handleClaim).Methods(http.MethodPost)
}
