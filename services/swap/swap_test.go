package swap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
	"github.com/R3E-Network/defi_portfolio/internal/logging"
)

var testTokens = portfolio.NewTokenTable([]portfolio.Token{
	{Address: "0xusdc", Symbol: "USDC", Decimals: 6},
	{Address: "0x1::aptos_coin::AptosCoin", Symbol: "APT", Decimals: 8},
})

type fakeProvider struct {
	name       string
	convention AmountConvention
	quote      *ProviderQuote
	err        error
	got        []ProviderRequest
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) Convention() AmountConvention { return f.convention }
func (f *fakeProvider) Quote(_ context.Context, req ProviderRequest) (*ProviderQuote, error) {
	f.got = append(f.got, req)
	return f.quote, f.err
}

func intPtr(v int) *int { return &v }

func newTestRouter(providers ...Provider) *Router {
	return NewRouter(testTokens, logging.NewDiscard("test"), providers...)
}

// =============================================================================
// Router
// =============================================================================

func TestRouter_MinimalUnitConversion(t *testing.T) {
	p := &fakeProvider{name: "hyperion", convention: MinimalUnit, quote: &ProviderQuote{AmountOut: "42"}}
	r := newTestRouter(p)

	q, err := r.Quote(context.Background(), QuoteRequest{
		Provider: "hyperion", FromTokenAddress: "0xa", ToTokenAddress: "0xb",
		Amount: "1.5", Decimals: intPtr(6),
	})
	require.NoError(t, err)
	require.Len(t, p.got, 1)
	assert.Equal(t, "1500000", p.got[0].Amount)
	assert.Equal(t, "1500000", q.AmountIn)
	assert.Equal(t, "42", q.AmountOut)
	assert.Equal(t, []string{"0xa", "0xb"}, q.Path)
}

func TestRouter_RejectsNonPositiveAmounts(t *testing.T) {
	p := &fakeProvider{name: "hyperion", convention: MinimalUnit, quote: &ProviderQuote{AmountOut: "1"}}
	r := newTestRouter(p)

	for _, amount := range []string{"0", "-1", "", "abc", "NaN", "Infinity", "0.0000001"} {
		t.Run(amount, func(t *testing.T) {
			_, err := r.Quote(context.Background(), QuoteRequest{
				Provider: "hyperion", FromTokenAddress: "0xa", ToTokenAddress: "0xb",
				Amount: amount, Decimals: intPtr(6),
			})
			assert.True(t, svcerrors.IsValidation(err), "amount %q: %v", amount, err)
		})
	}
	assert.Empty(t, p.got)
}

func TestRouter_SlippageIsFractionForEveryProvider(t *testing.T) {
	human := &fakeProvider{name: "panora", convention: HumanReadable, quote: &ProviderQuote{AmountOut: "1"}}
	minimal := &fakeProvider{name: "hyperion", convention: MinimalUnit, quote: &ProviderQuote{AmountOut: "1"}}
	r := newTestRouter(human, minimal)

	for _, name := range []string{"panora", "hyperion"} {
		q, err := r.Quote(context.Background(), QuoteRequest{
			Provider: name, FromTokenAddress: "0xusdc", ToTokenAddress: "0xusdc",
			Amount: "1", SlippagePercentage: "1",
		})
		require.NoError(t, err, name)
		assert.Equal(t, 0.01, q.Slippage, name)
	}
	assert.Equal(t, 0.01, human.got[0].Slippage)
	assert.Equal(t, 0.01, minimal.got[0].Slippage)
}

func TestSlippageFraction(t *testing.T) {
	v, err := SlippageFraction("")
	require.NoError(t, err)
	assert.Equal(t, 0.005, v)

	v, err = SlippageFraction("100")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	for _, bad := range []string{"-0.1", "100.5", "x"} {
		_, err := SlippageFraction(bad)
		assert.True(t, svcerrors.IsValidation(err), bad)
	}
}

func TestRouter_HumanReadableOutputIsScaled(t *testing.T) {
	p := &fakeProvider{name: "panora", convention: HumanReadable, quote: &ProviderQuote{AmountOut: "2.5"}}
	r := newTestRouter(p)

	q, err := r.Quote(context.Background(), QuoteRequest{
		Provider: "PANORA", FromTokenAddress: "0x1::aptos_coin::AptosCoin", ToTokenAddress: "0xusdc",
		Amount: "1.50",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.5", p.got[0].Amount)
	assert.Equal(t, 8, p.got[0].Decimals)
	assert.Equal(t, "150000000", q.AmountIn)
	assert.Equal(t, "2500000", q.AmountOut)
	assert.Equal(t, "panora", q.Provider)
}

func TestRouter_ReportedOutDecimalsWin(t *testing.T) {
	p := &fakeProvider{name: "panora", convention: HumanReadable, quote: &ProviderQuote{AmountOut: "2.5", OutDecimals: intPtr(2)}}
	q, err := newTestRouter(p).Quote(context.Background(), QuoteRequest{
		Provider: "panora", FromTokenAddress: "0xa", ToTokenAddress: "0xusdc", Amount: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "250", q.AmountOut)
}

func TestRouter_NoLiquidity(t *testing.T) {
	for _, out := range []*ProviderQuote{nil, {AmountOut: ""}, {AmountOut: "0"}, {AmountOut: "0.0000000001"}} {
		p := &fakeProvider{name: "panora", convention: HumanReadable, quote: out}
		_, err := newTestRouter(p).Quote(context.Background(), QuoteRequest{
			Provider: "panora", FromTokenAddress: "0xa", ToTokenAddress: "0xb", Amount: "1",
		})
		assert.True(t, svcerrors.IsNoLiquidity(err))
	}
}

func TestRouter_NonNumericOutputIsInternal(t *testing.T) {
	p := &fakeProvider{name: "hyperion", convention: MinimalUnit, quote: &ProviderQuote{AmountOut: "lots"}}
	_, err := newTestRouter(p).Quote(context.Background(), QuoteRequest{
		Provider: "hyperion", FromTokenAddress: "0xa", ToTokenAddress: "0xb", Amount: "1",
	})
	se, ok := svcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, svcerrors.CodeInternal, se.Code)
}

func TestRouter_UpstreamErrorSurfacesWithoutFailover(t *testing.T) {
	failing := &fakeProvider{name: "panora", convention: HumanReadable, err: svcerrors.Upstream("panora", errors.New("down"))}
	other := &fakeProvider{name: "hyperion", convention: MinimalUnit, quote: &ProviderQuote{AmountOut: "1"}}

	_, err := newTestRouter(failing, other).Quote(context.Background(), QuoteRequest{
		Provider: "panora", FromTokenAddress: "0xa", ToTokenAddress: "0xb", Amount: "1",
	})
	assert.True(t, svcerrors.IsUpstream(err))
	assert.Empty(t, other.got)
}

func TestRouter_ValidatesRequest(t *testing.T) {
	r := newTestRouter(&fakeProvider{name: "hyperion", convention: MinimalUnit})

	cases := map[string]QuoteRequest{
		"missing provider": {FromTokenAddress: "0xa", ToTokenAddress: "0xb", Amount: "1"},
		"unknown provider": {Provider: "uniswap", FromTokenAddress: "0xa", ToTokenAddress: "0xb", Amount: "1"},
		"missing from":     {Provider: "hyperion", ToTokenAddress: "0xb", Amount: "1"},
		"missing to":       {Provider: "hyperion", FromTokenAddress: "0xa", Amount: "1"},
		"bad decimals":     {Provider: "hyperion", FromTokenAddress: "0xa", ToTokenAddress: "0xb", Amount: "1", Decimals: intPtr(33)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Quote(context.Background(), req)
			assert.True(t, svcerrors.IsValidation(err))
		})
	}
}

// =============================================================================
// Attempt
// =============================================================================

func TestAttempt_Transitions(t *testing.T) {
	a := NewAttempt("panora")
	assert.Equal(t, StateIdle, a.State())
	assert.Error(t, a.Succeed())

	require.NoError(t, a.Begin())
	assert.Equal(t, StateRequested, a.State())
	assert.Error(t, a.Begin())

	cause := errors.New("boom")
	require.NoError(t, a.Fail(cause))
	assert.Equal(t, StateFailed, a.State())
	assert.Equal(t, cause, a.Err())
	assert.Error(t, a.Succeed(), "terminal states are final")
	assert.Equal(t, "failed", a.State().String())
}

// =============================================================================
// Adapters
// =============================================================================

func TestPanora_Quote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "0xa", q.Get("fromTokenAddress"))
		assert.Equal(t, "0xb", q.Get("toTokenAddress"))
		assert.Equal(t, "1.5", q.Get("fromTokenAmount"))
		assert.Equal(t, "1", q.Get("slippagePercentage"))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"toToken":{"decimals":6},"quotes":[{"toTokenAmount":"3.25","route":["0xa","0xc","0xb"]}]}`))
	}))
	defer server.Close()

	p := NewPanora(httputil.NewUpstreamClient(httputil.UpstreamClientConfig{}), server.URL, "secret")
	q, err := p.Quote(context.Background(), ProviderRequest{
		FromToken: "0xa", ToToken: "0xb", Amount: "1.5",
		Slippage: 0.01, SlippagePercent: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "3.25", q.AmountOut)
	require.NotNil(t, q.OutDecimals)
	assert.Equal(t, 6, *q.OutDecimals)
	assert.Equal(t, []string{"0xa", "0xc", "0xb"}, q.Path)
}

func TestRouter_PanoraWireSlippageIsExactPercentage(t *testing.T) {
	cases := map[string]string{
		"7":    "7",
		"0.3":  "0.3",
		"12.5": "12.5",
		"0.05": "0.05",
		"":     DefaultSlippagePercentage,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Query().Get("slippagePercentage")
				_, _ = w.Write([]byte(`{"quotes":[{"toTokenAmount":"1"}]}`))
			}))
			defer server.Close()

			r := newTestRouter(NewPanora(httputil.NewUpstreamClient(httputil.UpstreamClientConfig{}), server.URL, ""))
			_, err := r.Quote(context.Background(), QuoteRequest{
				Provider: "panora", FromTokenAddress: "0xa", ToTokenAddress: "0xusdc",
				Amount: "1", Decimals: intPtr(8), SlippagePercentage: in,
			})
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestPanora_EmptyQuotesIsNoLiquidity(t *testing.T) {
	_, err := parsePanoraQuote([]byte(`{"quotes":[]}`))
	assert.True(t, svcerrors.IsNoLiquidity(err))
}

func TestHyperion_Quote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1500000", q.Get("amount"))
		assert.Equal(t, "0.01", q.Get("slippage"))
		_, _ = w.Write([]byte(`{"data":{"amountOut":987654321987654321987,"path":["0xa","0xb"]}}`))
	}))
	defer server.Close()

	h := NewHyperion(httputil.NewUpstreamClient(httputil.UpstreamClientConfig{}), server.URL)
	q, err := h.Quote(context.Background(), ProviderRequest{FromToken: "0xa", ToToken: "0xb", Amount: "1500000", Slippage: 0.01})
	require.NoError(t, err)
	assert.Equal(t, "987654321987654321987", q.AmountOut)
	assert.Equal(t, []string{"0xa", "0xb"}, q.Path)
}

func TestHyperion_ServerErrorIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := NewHyperion(httputil.NewUpstreamClient(httputil.UpstreamClientConfig{}), server.URL)
	_, err := h.Quote(context.Background(), ProviderRequest{Amount: "1"})
	assert.True(t, svcerrors.IsUpstream(err))
}

func TestRouter_EndToEndWithHyperion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"amountOut":"0"}`))
	}))
	defer server.Close()

	r := newTestRouter(NewHyperion(httputil.NewUpstreamClient(httputil.UpstreamClientConfig{}), server.URL))
	_, err := r.Quote(context.Background(), QuoteRequest{
		Provider: "hyperion", FromTokenAddress: "0xusdc", ToTokenAddress: "0xb", Amount: "2",
	})
	assert.True(t, svcerrors.IsNoLiquidity(err))
}
