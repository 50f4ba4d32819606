// Package httputil provides HTTP helpers for calling upstream providers and
// writing API responses.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
)

const (
	defaultUpstreamTimeout = 8 * time.Second
	defaultMaxBodyBytes    = 8 << 20
	errorBodyPreview       = 512
)

// =============================================================================
// Upstream Client
// =============================================================================

// UpstreamClient performs JSON calls against third-party providers.
// Every call gets its own timeout, independent of the caller's deadline, and a fixed
// header set merged with per-call headers.
type UpstreamClient struct {
	httpClient   *http.Client
	timeout      time.Duration
	headers      map[string]string
	maxBodyBytes int64
}

// UpstreamClientConfig configures the upstream client.
type UpstreamClientConfig struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	UserAgent    string
	Headers      map[string]string
	MaxBodyBytes int64
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// NewUpstreamClient creates a client with defaults for unset fields.
func NewUpstreamClient(cfg UpstreamClientConfig) *UpstreamClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	headers := map[string]string{"Accept": "application/json"}
	if cfg.UserAgent != "" {
		headers["User-Agent"] = cfg.UserAgent
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &UpstreamClient{
		httpClient:   httpClient,
		timeout:      timeout,
		headers:      headers,
		maxBodyBytes: maxBody,
	}
}

// Timeout returns the per-call timeout.
func (c *UpstreamClient) Timeout() time.Duration {
	return c.timeout
}

// Do executes req and returns the response body of a 2xx answer.
// Transport failures and non-2xx statuses are returned as UPSTREAM_UNAVAILABLE errors
// tagged with provider.
func (c *UpstreamClient) Do(ctx context.Context, provider string, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, svcerrors.Internal(fmt.Errorf("build request for %s: %w", provider, err))
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, svcerrors.Upstream(provider, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, truncated, err := ReadAllWithLimit(resp.Body, c.maxBodyBytes)
	if err != nil {
		return nil, svcerrors.Upstream(provider, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := strings.TrimSpace(string(body))
		if len(preview) > errorBodyPreview {
			preview = preview[:errorBodyPreview] + "...(truncated)"
		}
		return nil, svcerrors.Upstream(provider, fmt.Errorf("status %d: %s", resp.StatusCode, preview))
	}
	if truncated {
		return nil, svcerrors.Upstream(provider, fmt.Errorf("response exceeds %d bytes", c.maxBodyBytes))
	}

	return body, nil
}

// GetJSON performs a GET and decodes the JSON body into target.
func (c *UpstreamClient) GetJSON(ctx context.Context, provider, url string, headers map[string]string, target interface{}) error {
	body, err := c.Do(ctx, provider, Request{Method: http.MethodGet, URL: url, Headers: headers})
	if err != nil {
		return err
	}
	return decodeBody(provider, body, target)
}

// PostJSON marshals payload, performs a POST and decodes the JSON body into target.
func (c *UpstreamClient) PostJSON(ctx context.Context, provider, url string, headers map[string]string, payload, target interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return svcerrors.Internal(fmt.Errorf("marshal %s request: %w", provider, err))
	}
	body, err := c.Do(ctx, provider, Request{Method: http.MethodPost, URL: url, Headers: headers, Body: raw})
	if err != nil {
		return err
	}
	return decodeBody(provider, body, target)
}

func decodeBody(provider string, body []byte, target interface{}) error {
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return svcerrors.Internal(fmt.Errorf("decode %s response: %w", provider, err))
	}
	return nil
}

// =============================================================================
// Body helpers
// =============================================================================

// ReadAllWithLimit reads at most limit bytes and reports whether more were available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}
