package swap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/logging"
	"github.com/R3E-Network/defi_portfolio/internal/metrics"
)

const (
	// DefaultSlippagePercentage applies when the request omits slippage.
	DefaultSlippagePercentage = "0.5"
	maxDecimals               = 32
)

var hundred = decimal.NewFromInt(100)

// QuoteRequest is the caller-facing request. Amount is human readable and
// SlippagePercentage is a percentage ("1" == 1%).
type QuoteRequest struct {
	Provider           string `json:"provider"`
	FromTokenAddress   string `json:"fromTokenAddress"`
	ToTokenAddress     string `json:"toTokenAddress"`
	Amount             string `json:"amount"`
	Decimals           *int   `json:"decimals,omitempty"`
	SlippagePercentage string `json:"slippagePercentage,omitempty"`
}

// Router selects exactly one provider per request. It never fails over.
type Router struct {
	providers map[string]Provider
	tokens    *portfolio.TokenTable
	log       *logging.Logger
}

// NewRouter creates a router over providers, keyed by lowercase name.
func NewRouter(tokens *portfolio.TokenTable, log *logging.Logger, providers ...Provider) *Router {
	if log == nil {
		log = logging.NewDefault("swap")
	}
	r := &Router{
		providers: make(map[string]Provider, len(providers)),
		tokens:    tokens,
		log:       log,
	}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Providers lists the registered provider names in sorted order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Quote validates req, converts the amount to the provider's convention, calls
// the provider once and returns a quote with both amounts in minimal units.
func (r *Router) Quote(ctx context.Context, req QuoteRequest) (*portfolio.SwapQuote, error) {
	name := strings.ToLower(strings.TrimSpace(req.Provider))
	if name == "" {
		return nil, svcerrors.Required("provider")
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, svcerrors.Validation("provider", fmt.Sprintf("unknown provider %q", req.Provider)).
			WithDetail("supported", r.Providers())
	}
	if strings.TrimSpace(req.FromTokenAddress) == "" {
		return nil, svcerrors.Required("fromTokenAddress")
	}
	if strings.TrimSpace(req.ToTokenAddress) == "" {
		return nil, svcerrors.Required("toTokenAddress")
	}

	decimals, err := r.resolveDecimals(req.FromTokenAddress, req.Decimals)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	slippagePct, err := parseSlippage(req.SlippagePercentage)
	if err != nil {
		return nil, err
	}
	slippage := slippagePct.Div(hundred).InexactFloat64()

	minimalIn, err := ToMinimalUnits(amount, decimals)
	if err != nil {
		return nil, err
	}

	preq := ProviderRequest{
		FromToken:       req.FromTokenAddress,
		ToToken:         req.ToTokenAddress,
		Decimals:        decimals,
		Slippage:        slippage,
		SlippagePercent: slippagePct,
	}
	switch provider.Convention() {
	case MinimalUnit:
		preq.Amount = minimalIn.String()
	case HumanReadable:
		preq.Amount = amount.String()
	default:
		return nil, svcerrors.Internal(fmt.Errorf("provider %s has unknown convention %s", name, provider.Convention()))
	}

	log := r.log.ForContext(ctx).WithField("provider", name).WithField("convention", provider.Convention().String())

	attempt := NewAttempt(name)
	_ = attempt.Begin()
	pq, err := provider.Quote(ctx, preq)
	if err == nil {
		err = checkQuote(pq)
	}
	if err != nil {
		_ = attempt.Fail(err)
		metrics.RecordSwapQuote(name, quoteOutcome(err))
		log.WithError(err).WithField("state", attempt.State().String()).Warn("swap quote failed")
		return nil, err
	}

	amountOut, err := r.normalizeOut(provider.Convention(), pq, req.ToTokenAddress)
	if err != nil {
		_ = attempt.Fail(err)
		metrics.RecordSwapQuote(name, quoteOutcome(err))
		log.WithError(err).Warn("swap quote failed")
		return nil, err
	}
	_ = attempt.Succeed()
	metrics.RecordSwapQuote(name, metrics.OutcomeSuccess)
	log.WithField("duration_ms", attempt.Duration().Milliseconds()).Debug("swap quote succeeded")

	path := pq.Path
	if len(path) == 0 {
		path = []string{req.FromTokenAddress, req.ToTokenAddress}
	}

	return &portfolio.SwapQuote{
		Provider:  name,
		AmountIn:  minimalIn.String(),
		AmountOut: amountOut.String(),
		Path:      path,
		Slippage:  slippage,
	}, nil
}

// resolveDecimals prefers the request value, then the token table, then the default.
func (r *Router) resolveDecimals(token string, requested *int) (int, error) {
	if requested != nil {
		if *requested < 0 || *requested > maxDecimals {
			return 0, svcerrors.Validation("decimals", fmt.Sprintf("must be between 0 and %d", maxDecimals))
		}
		return *requested, nil
	}
	tok, _ := r.tokens.Lookup(token)
	return tok.Decimals, nil
}

func (r *Router) normalizeOut(conv AmountConvention, pq *ProviderQuote, toToken string) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(strings.TrimSpace(pq.AmountOut))
	if err != nil {
		return decimal.Zero, svcerrors.Internal(fmt.Errorf("provider returned non-numeric amount %q", pq.AmountOut))
	}

	if conv == HumanReadable {
		decimals := 0
		if pq.OutDecimals != nil {
			decimals = *pq.OutDecimals
		} else {
			tok, _ := r.tokens.Lookup(toToken)
			decimals = tok.Decimals
		}
		out = out.Shift(int32(decimals))
	}

	out = out.Floor()
	if !out.IsPositive() {
		return decimal.Zero, svcerrors.NoLiquidity("no route: provider returned zero output")
	}
	return out, nil
}

func checkQuote(pq *ProviderQuote) error {
	if pq == nil || strings.TrimSpace(pq.AmountOut) == "" {
		return svcerrors.NoLiquidity("no route: provider returned no output amount")
	}
	return nil
}

func quoteOutcome(err error) string {
	if svcerrors.IsNoLiquidity(err) {
		return metrics.OutcomeNoData
	}
	return metrics.OutcomeFailure
}

// =============================================================================
// Unit conversion
// =============================================================================

func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, svcerrors.Required("amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, svcerrors.Validation("amount", fmt.Sprintf("%q is not a finite decimal number", raw))
	}
	if !d.IsPositive() {
		return decimal.Zero, svcerrors.Validation("amount", "must be greater than zero")
	}
	return d, nil
}

// ToMinimalUnits returns floor(amount * 10^decimals), rejecting results <= 0.
func ToMinimalUnits(amount decimal.Decimal, decimals int) (decimal.Decimal, error) {
	minimal := amount.Shift(int32(decimals)).Floor()
	if !minimal.IsPositive() {
		return decimal.Zero, svcerrors.Validation("amount",
			fmt.Sprintf("%s is below the smallest unit for %d decimals", amount.String(), decimals))
	}
	return minimal, nil
}

// SlippageFraction converts a percentage string to a fraction. Empty means
// DefaultSlippagePercentage. The percentage must be within [0, 100].
func SlippageFraction(percentage string) (float64, error) {
	pct, err := parseSlippage(percentage)
	if err != nil {
		return 0, err
	}
	return pct.Div(hundred).InexactFloat64(), nil
}

func parseSlippage(percentage string) (decimal.Decimal, error) {
	s := strings.TrimSpace(percentage)
	if s == "" {
		s = DefaultSlippagePercentage
	}
	pct, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, svcerrors.Validation("slippagePercentage", fmt.Sprintf("%q is not a number", percentage))
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return decimal.Zero, svcerrors.Validation("slippagePercentage", "must be between 0 and 100")
	}
	return pct, nil
}
