package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
)

const priceProvider = "prices"

// PriceSource loads the symbol to USD price map from the price API.
type PriceSource struct {
	client *httputil.UpstreamClient
	url    string
}

// NewPriceSource creates a price adapter. An empty url yields an empty map.
func NewPriceSource(client *httputil.UpstreamClient, url string) *PriceSource {
	return &PriceSource{client: client, url: url}
}

// Prices performs one GET and returns usd prices keyed by symbol.
// Accepted shapes: [{symbol, usdPrice}], {data: [...]}, or {SYMBOL: price}.
func (s *PriceSource) Prices(ctx context.Context) (map[string]float64, error) {
	if s.url == "" {
		return map[string]float64{}, nil
	}

	var body json.RawMessage
	if err := s.client.GetJSON(ctx, priceProvider, s.url, nil, &body); err != nil {
		return nil, err
	}
	return parsePrices(body)
}

func parsePrices(body []byte) (map[string]float64, error) {
	if !gjson.ValidBytes(body) {
		return nil, svcerrors.Internal(fmt.Errorf("price api returned invalid json"))
	}

	res := gjson.ParseBytes(body)
	if data := res.Get("data"); data.IsArray() {
		res = data
	}

	prices := make(map[string]float64)
	switch {
	case res.IsArray():
		res.ForEach(func(_, row gjson.Result) bool {
			symbol := strings.TrimSpace(row.Get("symbol").String())
			if symbol == "" {
				return true
			}
			price, ok := priceValue(row.Get("usdPrice"))
			if !ok {
				price, ok = priceValue(row.Get("price"))
			}
			if ok {
				prices[symbol] = price
			}
			return true
		})
	case res.IsObject():
		res.ForEach(func(key, value gjson.Result) bool {
			if price, ok := priceValue(value); ok {
				prices[key.String()] = price
			}
			return true
		})
	default:
		return nil, svcerrors.Internal(fmt.Errorf("price api returned unexpected shape"))
	}
	return prices, nil
}

// priceValue accepts JSON numbers and numeric strings. Null, empty, negative and
// non-numeric values are unknown prices and must not become zero.
func priceValue(v gjson.Result) (float64, bool) {
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.InexactFloat64(), true
}
