package balances

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/logging"
)

var addressPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// BalanceFetcher reads raw balances for an owner address.
type BalanceFetcher interface {
	Balances(ctx context.Context, owner string) ([]portfolio.RawBalance, error)
}

// PriceFetcher returns usd prices keyed by symbol.
type PriceFetcher interface {
	Prices(ctx context.Context) (map[string]float64, error)
}

// Diagnostic records a degraded step of a balance pass.
type Diagnostic struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report is the response of one balance pass.
type Report struct {
	Address     string                     `json:"address"`
	Balances    []portfolio.Balance        `json:"balances"`
	Invalid     []portfolio.InvalidBalance `json:"invalid"`
	TotalUSD    float64                    `json:"totalUsd"`
	Diagnostics []Diagnostic               `json:"diagnostics"`
}

// Service combines the indexer, the price source and the token table.
type Service struct {
	balances BalanceFetcher
	prices   PriceFetcher
	tokens   *portfolio.TokenTable
	log      *logging.Logger
}

// NewService creates a balance service. prices may be nil.
func NewService(balances BalanceFetcher, prices PriceFetcher, tokens *portfolio.TokenTable, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("balances")
	}
	return &Service{balances: balances, prices: prices, tokens: tokens, log: log}
}

// ValidateAddress checks the 64-hex-digit format and returns the canonical
// lowercase 0x-prefixed form.
func ValidateAddress(address string) (string, error) {
	if !addressPattern.MatchString(address) {
		return "", svcerrors.Validation("address", "must be 64 hex characters, optionally 0x-prefixed")
	}
	return "0x" + strings.ToLower(strings.TrimPrefix(address, "0x")), nil
}

// Portfolio fetches balances and prices concurrently, then normalizes and enriches.
// A failing price source degrades to unpriced balances; a failing indexer is an error.
func (s *Service) Portfolio(ctx context.Context, address string) (*Report, error) {
	owner, err := ValidateAddress(address)
	if err != nil {
		return nil, err
	}

	var (
		wg        sync.WaitGroup
		raw       []portfolio.RawBalance
		rawErr    error
		prices    map[string]float64
		pricesErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		raw, rawErr = s.balances.Balances(ctx, owner)
	}()
	if s.prices != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prices, pricesErr = s.prices.Prices(ctx)
		}()
	}
	wg.Wait()

	log := s.log.ForContext(ctx).WithField("address", owner)
	if rawErr != nil {
		log.WithError(rawErr).Warn("indexer balance lookup failed")
		return nil, rawErr
	}

	report := &Report{Address: owner, Diagnostics: []Diagnostic{}}

	if pricesErr != nil {
		log.WithError(pricesErr).Warn("price lookup failed; returning unpriced balances")
		report.Diagnostics = append(report.Diagnostics, Diagnostic{Source: "prices", Error: svcerrors.FromError(pricesErr).Message})
		prices = nil
	}

	normalized := Normalize(raw, s.tokens)
	for _, inv := range normalized.Invalid {
		log.WithField("asset_type", inv.AssetType).WithField("reason", inv.Reason).Debug("balance entry rejected")
	}

	report.Balances = Enrich(normalized.Balances, prices)
	report.Invalid = normalized.Invalid
	report.TotalUSD = TotalUSD(report.Balances)
	return report, nil
}
