package portfolio

import (
	"net/http"

	"github.com/gorilla/mux"

	domain "github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
	"github.com/R3E-Network/defi_portfolio/services/aggregator"
	"github.com/R3E-Network/defi_portfolio/services/swap"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// PoolsResponse is returned by GET /pools.
type PoolsResponse struct {
	Success     bool                          `json:"success"`
	Data        []domain.Pool                 `json:"data"`
	Protocols   map[string]int                `json:"protocols"`
	Diagnostics []aggregator.SourceDiagnostic `json:"diagnostics"`
}

// SourceView is the public view of a configured source. Headers and bodies
// are left out since they may carry credentials.
type SourceView struct {
	Name     string            `json:"name"`
	Kind     domain.SourceKind `json:"kind"`
	URL      string            `json:"url"`
	Protocol string            `json:"protocol,omitempty"`
	Enabled  bool              `json:"enabled"`
}

// DepositRequest is the body of POST /actions/{protocol}/deposit.
type DepositRequest struct {
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

// WithdrawRequest is the body of POST /actions/{protocol}/withdraw.
type WithdrawRequest struct {
	Market string `json:"market"`
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

// ClaimRequest is the body of POST /actions/{protocol}/claim.
type ClaimRequest struct {
	PositionIDs []string `json:"positionIds"`
	TokenTypes  []string `json:"tokenTypes"`
}

func sourceView(src domain.SourceConfig) SourceView {
	return SourceView{
		Name:     src.Name,
		Kind:     src.Kind,
		URL:      src.URL,
		Protocol: src.Protocol,
		Enabled:  src.Enabled,
	}
}

// =============================================================================
// Pools, Balances, Swaps
// =============================================================================

func (s *Service) handleGetPools(w http.ResponseWriter, r *http.Request) {
	res := s.aggregator.Aggregate(r.Context())
	httputil.WriteJSON(w, http.StatusOK, PoolsResponse{
		Success:     true,
		Data:        res.Pools,
		Protocols:   res.Protocols,
		Diagnostics: res.Diagnostics,
	})
}

func (s *Service) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	report, err := s.balances.Portfolio(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (s *Service) handleSwapQuote(w http.ResponseWriter, r *http.Request) {
	var req swap.QuoteRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	quote, err := s.swaps.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

// =============================================================================
// Source Administration
// =============================================================================

func (s *Service) handleListSources(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Registry().Snapshot()
	views := make([]SourceView, 0, len(snapshot))
	for _, src := range snapshot {
		views = append(views, sourceView(src))
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (s *Service) handleSetSourceEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		src, err := s.aggregator.Registry().SetEnabled(name, enabled)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.Logger().LogSecurityEvent(r.Context(), "source_toggled", map[string]interface{}{
			"source":      name,
			"enabled":     enabled,
			"remote_addr": r.RemoteAddr,
		})
		httputil.WriteJSON(w, http.StatusOK, sourceView(src))
	}
}

// =============================================================================
// Protocol Actions
// =============================================================================

func (s *Service) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"protocols": s.actions.Protocols()})
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	builder, err := s.actions.Get(mux.Vars(r)["protocol"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req DepositRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePayload(w, r)(builder.BuildDeposit(req.Amount, req.Token))
}

func (s *Service) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	builder, err := s.actions.Get(mux.Vars(r)["protocol"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req WithdrawRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePayload(w, r)(builder.BuildWithdraw(req.Market, req.Amount, req.Token))
}

func (s *Service) handleClaim(w http.ResponseWriter, r *http.Request) {
	builder, err := s.actions.Get(mux.Vars(r)["protocol"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ClaimRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePayload(w, r)(builder.BuildClaimRewards(req.PositionIDs, req.TokenTypes))
}

func (s *Service) writePayload(w http.ResponseWriter, r *http.Request) func(*domain.TransactionPayload, error) {
	return func(p *domain.TransactionPayload, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, p)
	}
}

// writeError renders err. The cause of an internal error is replaced in the
// response body, so it is logged here.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if svcerrors.IsInternal(err) {
		s.Logger().ForContext(r.Context()).
			WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Error("internal error")
	}
	httputil.WriteError(w, err)
}
