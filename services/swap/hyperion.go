package swap

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
)

// HyperionName is the provider key for the Hyperion DEX.
const HyperionName = "hyperion"

// Hyperion quotes against the Hyperion pool router. Amounts go in and come
// back as integer minimal units.
type Hyperion struct {
	client  *httputil.UpstreamClient
	baseURL string
}

func NewHyperion(client *httputil.UpstreamClient, baseURL string) *Hyperion {
	return &Hyperion{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (h *Hyperion) Name() string                 { return HyperionName }
func (h *Hyperion) Convention() AmountConvention { return MinimalUnit }

func (h *Hyperion) Quote(ctx context.Context, req ProviderRequest) (*ProviderQuote, error) {
	if h.baseURL == "" {
		return nil, svcerrors.Upstream(HyperionName, fmt.Errorf("quote endpoint is not configured"))
	}

	q := url.Values{}
	q.Set("from", req.FromToken)
	q.Set("to", req.ToToken)
	q.Set("amount", req.Amount)
	q.Set("slippage", strconv.FormatFloat(req.Slippage, 'f', -1, 64))

	body, err := h.client.Do(ctx, HyperionName, httputil.Request{URL: h.baseURL + "?" + q.Encode()})
	if err != nil {
		return nil, err
	}
	return parseHyperionQuote(body)
}

func parseHyperionQuote(body []byte) (*ProviderQuote, error) {
	if !gjson.ValidBytes(body) {
		return nil, svcerrors.Internal(fmt.Errorf("hyperion returned invalid json"))
	}
	res := gjson.ParseBytes(body)
	if data := res.Get("data"); data.IsObject() {
		res = data
	}

	amount := res.Get("amountOut")
	if !amount.Exists() || amount.Type == gjson.Null {
		return nil, svcerrors.NoLiquidity("no route: hyperion returned no output amount")
	}

	out := &ProviderQuote{AmountOut: amount.String()}
	if amount.Type == gjson.Number {
		out.AmountOut = amount.Raw
	}
	res.Get("path").ForEach(func(_, hop gjson.Result) bool {
		if addr := hop.String(); addr != "" {
			out.Path = append(out.Path, addr)
		}
		return true
	})
	return out, nil
}
