// Package aggregator fans out to the configured pool sources and merges their
// results into one provenance-tagged pool list.
//
// One failing source never affects the others: fetch errors, non-2xx answers
// and transform failures are recorded as diagnostics and the source is left
// out of the merge. Pools are always merged in source declaration order.
package aggregator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/defi_portfolio/internal/cache"
	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	"github.com/R3E-Network/defi_portfolio/internal/logging"
	"github.com/R3E-Network/defi_portfolio/internal/metrics"
	"github.com/R3E-Network/defi_portfolio/services/sources"
)

// DefaultMaxConcurrentFetches bounds the fan-out when Config leaves it unset.
const DefaultMaxConcurrentFetches = 8

// Config holds the aggregator dependencies.
type Config struct {
	Registry             *Registry
	Fetcher              sources.Fetcher
	Transformer          *Transformer
	Cache                cache.Cache
	MaxConcurrentFetches int
	Logger               *logging.Logger
}

// Aggregator builds the unified pool view.
type Aggregator struct {
	registry    *Registry
	fetcher     sources.Fetcher
	transformer *Transformer
	cache       cache.Cache
	limit       int
	log         *logging.Logger
}

// SourceDiagnostic reports what happened to one source in a pass.
type SourceDiagnostic struct {
	Source     string `json:"source"`
	Outcome    string `json:"outcome"`
	Pools      int    `json:"pools"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Result is the outcome of one aggregation pass. It is never an error: when
// every source fails Pools is empty.
type Result struct {
	Pools       []portfolio.Pool   `json:"data"`
	Protocols   map[string]int     `json:"protocols"`
	Diagnostics []SourceDiagnostic `json:"diagnostics"`
}

type sourceResult struct {
	index      int
	pools      []portfolio.Pool
	diagnostic SourceDiagnostic
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	limit := cfg.MaxConcurrentFetches
	if limit <= 0 {
		limit = DefaultMaxConcurrentFetches
	}
	transformer := cfg.Transformer
	if transformer == nil {
		transformer = NewTransformer()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("aggregator")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(nil)
	}

	return &Aggregator{
		registry:    registry,
		fetcher:     cfg.Fetcher,
		transformer: transformer,
		cache:       cfg.Cache,
		limit:       limit,
		log:         log,
	}
}

// Registry returns the source registry.
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// Aggregate fetches every enabled source concurrently and merges the results.
// If ctx is cancelled the pass returns with the sources that completed before
// cancellation; the others are reported as cancelled.
func (a *Aggregator) Aggregate(ctx context.Context) *Result {
	snapshot := a.registry.Snapshot()

	enabled := make([]portfolio.SourceConfig, 0, len(snapshot))
	for _, src := range snapshot {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	result := &Result{
		Pools:       []portfolio.Pool{},
		Protocols:   map[string]int{},
		Diagnostics: make([]SourceDiagnostic, 0, len(enabled)),
	}
	if len(enabled) == 0 {
		return result
	}

	// Buffered to len(enabled) so workers never block after the collector stops.
	results := make(chan sourceResult, len(enabled))

	go func() {
		var g errgroup.Group
		g.SetLimit(a.limit)
		for i, src := range enabled {
			g.Go(func() error {
				results <- a.fetchSource(ctx, i, src)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	collected := make([]*sourceResult, len(enabled))
collect:
	for received := 0; received < len(enabled); {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			collected[r.index] = &r
			received++
		case <-ctx.Done():
			break collect
		}
	}

	for i, src := range enabled {
		r := collected[i]
		if r == nil {
			result.Diagnostics = append(result.Diagnostics, SourceDiagnostic{
				Source:  src.Name,
				Outcome: metrics.OutcomeCancelled,
				Error:   "request cancelled before source completed",
			})
			continue
		}
		result.Diagnostics = append(result.Diagnostics, r.diagnostic)
		for _, pool := range r.pools {
			result.Pools = append(result.Pools, pool)
			result.Protocols[pool.Protocol]++
		}
	}

	return result
}

// fetchSource runs one source through fetch and transform. It never returns an
// error; failures become diagnostics.
func (a *Aggregator) fetchSource(ctx context.Context, index int, src portfolio.SourceConfig) (res sourceResult) {
	start := time.Now()
	res.index = index
	res.diagnostic.Source = src.Name

	log := a.log.ForContext(ctx).WithField("source", src.Name)

	finish := func(outcome string, err error) {
		elapsed := time.Since(start)
		res.diagnostic.Outcome = outcome
		res.diagnostic.Pools = len(res.pools)
		res.diagnostic.DurationMS = elapsed.Milliseconds()
		if err != nil {
			res.diagnostic.Error = err.Error()
			log.WithError(err).WithField("duration_ms", elapsed.Milliseconds()).Warn("source excluded from aggregation")
		}
		metrics.RecordSourceFetch(src.Name, outcome, elapsed)
	}

	defer func() {
		if r := recover(); r != nil {
			res.pools = nil
			finish(metrics.OutcomeFailure, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		finish(metrics.OutcomeCancelled, err)
		return res
	}

	key, useCache := a.cacheKey(src)
	if useCache {
		body, hit, err := a.cache.Get(ctx, key)
		if err != nil {
			log.WithError(err).Debug("cache lookup failed")
		}
		metrics.RecordCacheLookup(hit)
		if hit {
			pools, terr := a.transformer.Apply(ctx, src, body)
			if terr == nil {
				res.pools = tagSource(pools, src.Name)
				finish(metrics.OutcomeCacheHit, nil)
				return res
			}
		}
	}

	if a.fetcher == nil {
		finish(metrics.OutcomeFailure, fmt.Errorf("no fetcher configured"))
		return res
	}

	body, err := a.fetcher.Fetch(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			finish(metrics.OutcomeCancelled, err)
			return res
		}
		finish(metrics.OutcomeFailure, err)
		return res
	}

	pools, err := a.transformer.Apply(ctx, src, body)
	if err != nil {
		finish(metrics.OutcomeFailure, fmt.Errorf("transform: %w", err))
		return res
	}

	if useCache {
		if err := a.cache.Set(ctx, key, body, src.CacheTTL); err != nil {
			log.WithError(err).Debug("cache store failed")
		}
	}

	res.pools = tagSource(pools, src.Name)
	if len(res.pools) == 0 {
		finish(metrics.OutcomeNoData, nil)
		return res
	}
	finish(metrics.OutcomeSuccess, nil)
	return res
}

// cacheKey identifies a source request by URL and request body.
func (a *Aggregator) cacheKey(src portfolio.SourceConfig) (string, bool) {
	if a.cache == nil || src.CacheTTL <= 0 {
		return "", false
	}

	h := sha256.New()
	h.Write([]byte(src.Method))
	h.Write([]byte{0})
	h.Write([]byte(src.Body))
	h.Write([]byte{0})
	h.Write([]byte(src.Query))
	if len(src.Variables) > 0 {
		if raw, err := json.Marshal(src.Variables); err == nil {
			h.Write(raw)
		}
	}
	if src.View != nil {
		if raw, err := json.Marshal(src.View); err == nil {
			h.Write(raw)
		}
	}
	return "source:" + src.URL + "#" + hex.EncodeToString(h.Sum(nil))[:16], true
}

func tagSource(pools []portfolio.Pool, source string) []portfolio.Pool {
	for i := range pools {
		pools[i].SourceName = source
	}
	return pools
}
