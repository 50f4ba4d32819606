package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
)

const indexerProvider = "indexer"

const fungibleBalancesQuery = `query FungibleBalances($owner: String!) {
  current_fungible_asset_balances(where: {owner_address: {_eq: $owner}}) {
    asset_type
    amount
  }
}`

// BalanceSource reads fungible asset balances from the GraphQL indexer.
type BalanceSource struct {
	client *httputil.UpstreamClient
	url    string
}

// NewBalanceSource creates an indexer adapter for the GraphQL endpoint at url.
func NewBalanceSource(client *httputil.UpstreamClient, url string) *BalanceSource {
	return &BalanceSource{client: client, url: url}
}

// Balances returns the raw balances of owner. Amounts are passed through as the
// indexer reported them, including nulls, so normalization can flag them.
func (s *BalanceSource) Balances(ctx context.Context, owner string) ([]portfolio.RawBalance, error) {
	if s.url == "" {
		return nil, svcerrors.Upstream(indexerProvider, fmt.Errorf("indexer url not configured"))
	}

	// Raw keeps big integer amounts exact until normalization.
	var body json.RawMessage
	err := s.client.PostJSON(ctx, indexerProvider, s.url, nil, graphQLRequest{
		Query:     fungibleBalancesQuery,
		Variables: map[string]interface{}{"owner": owner},
	}, &body)
	if err != nil {
		return nil, err
	}

	return parseIndexerBalances(body)
}

func parseIndexerBalances(body []byte) ([]portfolio.RawBalance, error) {
	if !gjson.ValidBytes(body) {
		return nil, svcerrors.Internal(fmt.Errorf("indexer returned invalid json"))
	}

	res := gjson.ParseBytes(body)
	if errs := res.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, svcerrors.Upstream(indexerProvider, fmt.Errorf("graphql: %s", errs.Get("0.message").String()))
	}

	rows := res.Get("data.current_fungible_asset_balances")
	if !rows.IsArray() {
		return nil, svcerrors.Internal(fmt.Errorf("indexer response missing current_fungible_asset_balances"))
	}

	out := make([]portfolio.RawBalance, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		out = append(out, portfolio.RawBalance{
			AssetType: row.Get("asset_type").String(),
			Amount:    rawAmount(row.Get("amount")),
		})
		return true
	})
	return out, nil
}

// rawAmount keeps the literal text of numbers so large integers are not rounded.
func rawAmount(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return v.Raw
	case gjson.String:
		return v.Str
	case gjson.Null:
		if v.Exists() {
			return "null"
		}
		return ""
	default:
		return v.Raw
	}
}
