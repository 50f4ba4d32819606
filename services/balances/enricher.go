package balances

import (
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
)

// Enrich joins prices onto balances by symbol and returns new balances. Balances
// without a price keep nil USDPrice and USDValue; they are never defaulted to zero.
func Enrich(balances []portfolio.Balance, prices map[string]float64) []portfolio.Balance {
	out := make([]portfolio.Balance, len(balances))
	for i, b := range balances {
		b.USDPrice = nil
		b.USDValue = nil

		if price, ok := prices[b.Symbol]; ok {
			p := price
			v := usdValue(b, price)
			b.USDPrice = &p
			b.USDValue = &v
		}
		out[i] = b
	}
	return out
}

func usdValue(b portfolio.Balance, price float64) float64 {
	amount, err := decimal.NewFromString(b.Amount)
	if err != nil {
		amount = decimal.NewFromFloat(b.NormalizedAmount)
	}
	return amount.Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// TotalUSD sums the known USD values.
func TotalUSD(balances []portfolio.Balance) float64 {
	total := decimal.Zero
	for _, b := range balances {
		if b.USDValue != nil {
			total = total.Add(decimal.NewFromFloat(*b.USDValue))
		}
	}
	return total.InexactFloat64()
}
