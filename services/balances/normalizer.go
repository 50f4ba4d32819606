// Package balances turns raw indexer balances into normalized, priced balances.
package balances

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
)

var integerPattern = regexp.MustCompile(`^[0-9]+$`)

// NormalizeResult separates usable balances from rejected entries.
type NormalizeResult struct {
	Balances []portfolio.Balance
	Invalid  []portfolio.InvalidBalance
}

// Normalize scales each raw amount by its token decimals. Entries whose amount is
// not a non-negative base-10 integer are moved to Invalid.
func Normalize(raw []portfolio.RawBalance, tokens *portfolio.TokenTable) NormalizeResult {
	res := NormalizeResult{
		Balances: make([]portfolio.Balance, 0, len(raw)),
		Invalid:  []portfolio.InvalidBalance{},
	}

	for _, entry := range raw {
		amount, reason := parseRawAmount(entry.Amount)
		if reason != "" {
			res.Invalid = append(res.Invalid, portfolio.InvalidBalance{
				AssetType: entry.AssetType,
				Amount:    entry.Amount,
				Reason:    reason,
			})
			continue
		}

		token, _ := tokens.Lookup(entry.AssetType)
		scaled := amount.Shift(int32(-token.Decimals))

		res.Balances = append(res.Balances, portfolio.Balance{
			AssetType:        entry.AssetType,
			Symbol:           token.Symbol,
			RawAmount:        entry.Amount,
			Decimals:         token.Decimals,
			Amount:           scaled.String(),
			NormalizedAmount: scaled.InexactFloat64(),
		})
	}
	return res
}

func parseRawAmount(s string) (decimal.Decimal, string) {
	switch strings.ToLower(s) {
	case "":
		return decimal.Zero, "amount is empty"
	case "undefined", "null":
		return decimal.Zero, "amount is " + strings.ToLower(s)
	}
	if !integerPattern.MatchString(s) {
		return decimal.Zero, "amount is not a non-negative integer"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, "amount is not a non-negative integer"
	}
	return d, ""
}
