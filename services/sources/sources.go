// Package sources implements the adapters that fetch raw data from external
// providers: protocol REST APIs, the GraphQL indexer, the fullnode view endpoint
// and the price API.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
)

// Fetcher retrieves the raw body of one pool source.
type Fetcher interface {
	Fetch(ctx context.Context, src portfolio.SourceConfig) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, src)
}

// graphQLRequest is the standard GraphQL POST body.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// HTTPFetcher fetches sources over HTTP according to their kind.
type HTTPFetcher struct {
	client *httputil.UpstreamClient
}

// NewHTTPFetcher creates a fetcher sharing client across all sources.
func NewHTTPFetcher(client *httputil.UpstreamClient) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch issues exactly one request for src. Errors are UPSTREAM_UNAVAILABLE
// (transport, non-2xx) or INTERNAL_ERROR (unencodable request).
func (f *HTTPFetcher) Fetch(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
	req, err := buildRequest(src)
	if err != nil {
		return nil, err
	}
	return f.client.Do(ctx, src.Name, req)
}

func buildRequest(src portfolio.SourceConfig) (httputil.Request, error) {
	req := httputil.Request{URL: src.URL, Headers: src.Headers}

	switch src.Kind {
	case portfolio.SourceREST, "":
		req.Method = strings.ToUpper(src.Method)
		if req.Method == "" {
			req.Method = http.MethodGet
		}
		if src.Body != "" {
			req.Body = []byte(src.Body)
		}
	case portfolio.SourceGraphQL:
		body, err := json.Marshal(graphQLRequest{Query: src.Query, Variables: src.Variables})
		if err != nil {
			return req, svcerrors.Internal(fmt.Errorf("encode graphql body for %s: %w", src.Name, err))
		}
		req.Method = http.MethodPost
		req.Body = body
	case portfolio.SourceView:
		if src.View == nil {
			return req, svcerrors.Validation("view", fmt.Sprintf("source %s has no view call", src.Name))
		}
		body, err := json.Marshal(viewBody(*src.View))
		if err != nil {
			return req, svcerrors.Internal(fmt.Errorf("encode view body for %s: %w", src.Name, err))
		}
		req.Method = http.MethodPost
		req.Body = body
	default:
		return req, svcerrors.Validation("kind", fmt.Sprintf("source %s has unknown kind %q", src.Name, src.Kind))
	}
	return req, nil
}

// viewBody never sends null arrays; the fullnode rejects them.
func viewBody(v portfolio.ViewCall) portfolio.ViewCall {
	if v.TypeArguments == nil {
		v.TypeArguments = []string{}
	}
	if v.Arguments == nil {
		v.Arguments = []interface{}{}
	}
	return v
}
