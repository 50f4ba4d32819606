package swap

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
)

// PanoraName is the provider key for the Panora aggregator.
const PanoraName = "panora"

// Panora quotes through the Panora swap API. It takes human-readable amounts and
// a slippage percentage, and answers in human-readable units.
type Panora struct {
	client  *httputil.UpstreamClient
	baseURL string
	apiKey  string
}

// NewPanora creates the Panora adapter. baseURL is the full quote endpoint.
func NewPanora(client *httputil.UpstreamClient, baseURL, apiKey string) *Panora {
	return &Panora{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (p *Panora) Name() string                 { return PanoraName }
func (p *Panora) Convention() AmountConvention { return HumanReadable }

// Quote performs one GET against the quote endpoint.
func (p *Panora) Quote(ctx context.Context, req ProviderRequest) (*ProviderQuote, error) {
	if p.baseURL == "" {
		return nil, svcerrors.Upstream(PanoraName, fmt.Errorf("quote endpoint is not configured"))
	}

	q := url.Values{}
	q.Set("fromTokenAddress", req.FromToken)
	q.Set("toTokenAddress", req.ToToken)
	q.Set("fromTokenAmount", req.Amount)
	q.Set("slippagePercentage", req.SlippagePercent.String())

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["x-api-key"] = p.apiKey
	}

	body, err := p.client.Do(ctx, PanoraName, httputil.Request{
		Method:  "GET",
		URL:     p.baseURL + "?" + q.Encode(),
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}
	return parsePanoraQuote(body)
}

func parsePanoraQuote(body []byte) (*ProviderQuote, error) {
	if !gjson.ValidBytes(body) {
		return nil, svcerrors.Internal(fmt.Errorf("panora returned invalid json"))
	}
	res := gjson.ParseBytes(body)

	quotes := res.Get("quotes")
	if !quotes.IsArray() || len(quotes.Array()) == 0 {
		return nil, svcerrors.NoLiquidity("no route: panora returned no quotes")
	}
	best := quotes.Array()[0]

	out := &ProviderQuote{AmountOut: best.Get("toTokenAmount").String()}
	if dec := res.Get("toToken.decimals"); dec.Exists() {
		d := int(dec.Int())
		out.OutDecimals = &d
	}
	best.Get("route").ForEach(func(_, hop gjson.Result) bool {
		if addr := hop.String(); addr != "" {
			out.Path = append(out.Path, addr)
		}
		return true
	})
	return out, nil
}
