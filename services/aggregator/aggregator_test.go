package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/defi_portfolio/internal/cache"
	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
	"github.com/R3E-Network/defi_portfolio/internal/logging"
	"github.com/R3E-Network/defi_portfolio/internal/metrics"
	"github.com/R3E-Network/defi_portfolio/services/sources"
)

func envelope(protocol string, ids ...string) []byte {
	body := `{"data":[`
	for i, id := range ids {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"id":%q,"protocol":%q,"asset":"APT","apr":5.5,"totalStaked":"1000"}`, id, protocol)
	}
	return []byte(body + `]}`)
}

func newTestAggregator(srcs []portfolio.SourceConfig, fetcher sources.Fetcher, c cache.Cache) *Aggregator {
	return New(Config{
		Registry: NewRegistry(srcs),
		Fetcher:  fetcher,
		Cache:    c,
		Logger:   logging.NewDiscard("aggregator-test"),
	})
}

func poolIDs(pools []portfolio.Pool) []string {
	ids := make([]string, len(pools))
	for i, p := range pools {
		ids[i] = p.ID
	}
	return ids
}

func TestAggregate_FailingSourceIsolated(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "one", URL: "one", Enabled: true},
		{Name: "two", URL: "two", Enabled: true},
		{Name: "three", URL: "three", Enabled: true},
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		switch src.Name {
		case "one":
			// finish last to show ordering does not follow completion
			time.Sleep(30 * time.Millisecond)
			return envelope("aries", "a1", "a2"), nil
		case "two":
			return nil, errors.New("connection refused")
		default:
			return envelope("echelon", "e1"), nil
		}
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	assert.Equal(t, []string{"a1", "a2", "e1"}, poolIDs(result.Pools))
	assert.Equal(t, "one", result.Pools[0].SourceName)
	assert.Equal(t, "three", result.Pools[2].SourceName)
	assert.Equal(t, map[string]int{"aries": 2, "echelon": 1}, result.Protocols)

	require.Len(t, result.Diagnostics, 3)
	assert.Equal(t, metrics.OutcomeSuccess, result.Diagnostics[0].Outcome)
	assert.Equal(t, metrics.OutcomeFailure, result.Diagnostics[1].Outcome)
	assert.Contains(t, result.Diagnostics[1].Error, "connection refused")
	assert.Equal(t, metrics.OutcomeSuccess, result.Diagnostics[2].Outcome)
}

func TestAggregate_TransformFailureIsolated(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "bad", URL: "bad", Enabled: true},
		{Name: "good", URL: "good", Enabled: true},
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		if src.Name == "bad" {
			return []byte(`{"markets":[]}`), nil
		}
		return envelope("thala", "t1"), nil
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	assert.Equal(t, []string{"t1"}, poolIDs(result.Pools))
	assert.Equal(t, metrics.OutcomeFailure, result.Diagnostics[0].Outcome)
	assert.Contains(t, result.Diagnostics[0].Error, "transform")
}

func TestAggregate_PanicIsolated(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "panics", URL: "p", Enabled: true},
		{Name: "ok", URL: "ok", Enabled: true},
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		if src.Name == "panics" {
			panic("boom")
		}
		return envelope("aries", "a1"), nil
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	assert.Equal(t, []string{"a1"}, poolIDs(result.Pools))
	assert.Contains(t, result.Diagnostics[0].Error, "panic")
}

func TestAggregate_AllFailYieldsEmpty(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "one", URL: "one", Enabled: true},
		{Name: "two", URL: "two", Enabled: true},
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		return nil, errors.New("down")
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	require.NotNil(t, result.Pools)
	assert.Empty(t, result.Pools)
	assert.Empty(t, result.Protocols)
	assert.Len(t, result.Diagnostics, 2)
}

func TestAggregate_DisabledSourcesSkipped(t *testing.T) {
	var calls int32
	srcs := []portfolio.SourceConfig{
		{Name: "off", URL: "off", Enabled: false},
		{Name: "on", URL: "on", Enabled: true},
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "on", src.Name)
		return envelope("aries", "a1"), nil
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, result.Diagnostics, 1)
}

func TestAggregate_EmptySourceIsNoData(t *testing.T) {
	srcs := []portfolio.SourceConfig{{Name: "empty", URL: "e", Enabled: true}}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		return []byte(`{"data":[]}`), nil
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())
	assert.Equal(t, metrics.OutcomeNoData, result.Diagnostics[0].Outcome)
}

func TestAggregate_DuplicatesKept(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "api", URL: "api", Enabled: true},
		{Name: "view", URL: "view", Enabled: true},
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		return envelope("aries", "aries:APT"), nil
	})

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	require.Len(t, result.Pools, 2)
	assert.Equal(t, "api", result.Pools[0].SourceName)
	assert.Equal(t, "view", result.Pools[1].SourceName)
	assert.Equal(t, 2, result.Protocols["aries"])
}

func TestAggregate_RunsConcurrently(t *testing.T) {
	srcs := make([]portfolio.SourceConfig, 4)
	for i := range srcs {
		srcs[i] = portfolio.SourceConfig{Name: fmt.Sprintf("s%d", i), URL: fmt.Sprintf("u%d", i), Enabled: true}
	}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		time.Sleep(100 * time.Millisecond)
		return envelope("p", src.Name), nil
	})

	start := time.Now()
	result := newTestAggregator(srcs, fetcher, nil).Aggregate(context.Background())

	assert.Len(t, result.Pools, 4)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestAggregate_RespectsConcurrencyLimit(t *testing.T) {
	srcs := make([]portfolio.SourceConfig, 6)
	for i := range srcs {
		srcs[i] = portfolio.SourceConfig{Name: fmt.Sprintf("s%d", i), URL: fmt.Sprintf("u%d", i), Enabled: true}
	}

	var inFlight, peak int32
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return envelope("p", src.Name), nil
	})

	agg := New(Config{
		Registry:             NewRegistry(srcs),
		Fetcher:              fetcher,
		MaxConcurrentFetches: 2,
		Logger:               logging.NewDiscard("aggregator-test"),
	})
	result := agg.Aggregate(context.Background())

	assert.Len(t, result.Pools, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestAggregate_CancellationKeepsCompleted(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "fast", URL: "fast", Enabled: true},
		{Name: "hung", URL: "hung", Enabled: true},
	}

	fastDone := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		if src.Name == "fast" {
			defer close(fastDone)
			return envelope("aries", "a1"), nil
		}
		<-release
		return envelope("aries", "late"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fastDone
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := newTestAggregator(srcs, fetcher, nil).Aggregate(ctx)

	assert.Equal(t, []string{"a1"}, poolIDs(result.Pools))
	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, metrics.OutcomeCancelled, result.Diagnostics[1].Outcome)
}

func TestAggregate_UsesCache(t *testing.T) {
	var calls int32
	srcs := []portfolio.SourceConfig{{Name: "cached", URL: "c", Enabled: true, CacheTTL: time.Minute}}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return envelope("aries", "a1"), nil
	})

	agg := newTestAggregator(srcs, fetcher, cache.NewMemory())
	first := agg.Aggregate(context.Background())
	second := agg.Aggregate(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, poolIDs(first.Pools), poolIDs(second.Pools))
	assert.Equal(t, metrics.OutcomeCacheHit, second.Diagnostics[0].Outcome)
	assert.Equal(t, "cached", second.Pools[0].SourceName)
}

func TestAggregate_FailuresNotCached(t *testing.T) {
	var calls int32
	srcs := []portfolio.SourceConfig{{Name: "flaky", URL: "f", Enabled: true, CacheTTL: time.Minute}}
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`not json`), nil
	})

	agg := newTestAggregator(srcs, fetcher, cache.NewMemory())
	agg.Aggregate(context.Background())
	agg.Aggregate(context.Background())

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAggregate_ToggleDuringPass(t *testing.T) {
	srcs := []portfolio.SourceConfig{
		{Name: "a", URL: "a", Enabled: true},
		{Name: "b", URL: "b", Enabled: true},
	}
	var agg *Aggregator
	var once sync.Once
	fetcher := sources.FetcherFunc(func(ctx context.Context, src portfolio.SourceConfig) ([]byte, error) {
		once.Do(func() {
			_, err := agg.Registry().SetEnabled("b", false)
			assert.NoError(t, err)
		})
		return envelope("p", src.Name), nil
	})
	agg = newTestAggregator(srcs, fetcher, nil)

	first := agg.Aggregate(context.Background())
	assert.Len(t, first.Pools, 2, "pass keeps its own snapshot")

	second := agg.Aggregate(context.Background())
	assert.Len(t, second.Pools, 1)
}

func TestAggregate_HTTPEndToEnd(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelope("aries", "a1"))
	}))
	defer okServer.Close()
	downServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer downServer.Close()

	client := httputil.NewUpstreamClient(httputil.UpstreamClientConfig{Timeout: time.Second})
	srcs := []portfolio.SourceConfig{
		{Name: "down", Kind: portfolio.SourceREST, URL: downServer.URL, Enabled: true},
		{Name: "ok", Kind: portfolio.SourceREST, URL: okServer.URL, Enabled: true},
	}

	result := newTestAggregator(srcs, sources.NewHTTPFetcher(client), nil).Aggregate(context.Background())

	assert.Equal(t, []string{"a1"}, poolIDs(result.Pools))
	assert.Contains(t, result.Diagnostics[0].Error, "503")
}

func TestAggregate_NoSources(t *testing.T) {
	result := newTestAggregator(nil, nil, nil).Aggregate(context.Background())
	assert.Empty(t, result.Pools)
	assert.Empty(t, result.Diagnostics)
}
