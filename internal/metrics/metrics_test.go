package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSourceFetch(t *testing.T) {
	before := testutil.ToFloat64(sourceFetches.WithLabelValues("echelon", OutcomeFailure))
	RecordSourceFetch("echelon", OutcomeFailure, 20*time.Millisecond)
	after := testutil.ToFloat64(sourceFetches.WithLabelValues("echelon", OutcomeFailure))

	assert.Equal(t, before+1, after)
}

func TestRecordSwapQuoteDefaultsProvider(t *testing.T) {
	before := testutil.ToFloat64(swapQuotes.WithLabelValues("unknown", OutcomeFailure))
	RecordSwapQuote("", OutcomeFailure)
	assert.Equal(t, before+1, testutil.ToFloat64(swapQuotes.WithLabelValues("unknown", OutcomeFailure)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "/pools", http.StatusOK, time.Millisecond)
	RecordCacheLookup(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "defi_portfolio_http_requests_total")
	assert.Contains(t, body, "defi_portfolio_cache_lookups_total")
}
