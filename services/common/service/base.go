// Package service provides the shared HTTP service skeleton: router, lifecycle,
// background workers, health probes and the /health and /info endpoints.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/defi_portfolio/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Health states reported by /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Logger  *logging.Logger
}

// HealthProbe checks one dependency. Critical probes make the service unhealthy
// when they fail; the others only degrade it.
type HealthProbe struct {
	Name     string
	Critical bool
	Check    func(context.Context) error
}

// BaseService provides a consistent foundation for services:
// - Safe stop channel management (sync.Once prevents double-close panic)
// - Background worker management
// - Dependency probes for /health
// - Statistics provider for /info
type BaseService struct {
	id      string
	name    string
	version string
	router  *mux.Router
	log     *logging.Logger
	stats   *RequestStats

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once

	statsFn func() map[string]any
	workers []func(context.Context)
	probes  []HealthProbe

	// Health tracking
	healthMu        sync.RWMutex
	probeErrors     map[string]string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault(cfg.Name)
	}
	return &BaseService{
		id:          cfg.ID,
		name:        cfg.Name,
		version:     cfg.Version,
		router:      mux.NewRouter(),
		log:         log,
		stats:       NewRequestStats(),
		stopCh:      make(chan struct{}),
		probeErrors: map[string]string{},
	}
}

func (b *BaseService) ID() string              { return b.id }
func (b *BaseService) Name() string            { return b.name }
func (b *BaseService) Version() string         { return b.version }
func (b *BaseService) Router() *mux.Router     { return b.router }
func (b *BaseService) Logger() *logging.Logger { return b.log }

// Stats returns the request statistics collector shown on /info.
func (b *BaseService) Stats() *RequestStats { return b.stats }

// WithStats sets a statistics provider function for the /info endpoint.
// The function will be called on each /info request to get current statistics.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddHealthProbe registers a dependency check run by CheckHealth.
func (b *BaseService) AddHealthProbe(p HealthProbe) *BaseService {
	b.probes = append(b.probes, p)
	return b
}

// AddWorker registers a background worker started by Start.
// Workers should respect context cancellation and StopChan().
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers a periodic background worker.
// The worker function is called at the specified interval until Stop() is called.
func (b *BaseService) AddTickerWorker(name string, interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.log.WithError(err).WithField("worker", name).Warn("worker iteration failed")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start records the start time, runs one health check, then spins workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	b.CheckHealth(ctx)

	for _, w := range b.workers {
		go w(ctx)
	}
	b.log.WithField("workers", len(b.workers)).Info("service started")
	return nil
}

// Stop signals workers. It is idempotent.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.log.Info("service stopped")
	})
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// CheckHealth refreshes the cached health state by running every probe.
func (b *BaseService) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	failures := make(map[string]string)
	for _, p := range b.probes {
		if err := p.Check(ctx); err != nil {
			failures[p.Name] = err.Error()
			b.log.WithError(err).WithField("probe", p.Name).Warn("health probe failed")
		}
	}

	b.healthMu.Lock()
	b.probeErrors = failures
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus probes dependencies and returns the aggregated status string.
func (b *BaseService) HealthStatus(ctx context.Context) string {
	b.CheckHealth(ctx)
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	probes := make(map[string]string, len(b.probes))
	for _, p := range b.probes {
		if msg, failed := b.probeErrors[p.Name]; failed {
			probes[p.Name] = msg
		} else {
			probes[p.Name] = "ok"
		}
	}

	details := map[string]any{"probes": probes}
	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()

	return details
}

func (b *BaseService) healthStatusLocked() string {
	if len(b.probeErrors) == 0 {
		return StatusHealthy
	}
	for _, p := range b.probes {
		if _, failed := b.probeErrors[p.Name]; failed && p.Critical {
			return StatusUnhealthy
		}
	}
	return StatusDegraded
}

// probeNames is used by /info.
func (b *BaseService) probeNames() []string {
	names := make([]string, 0, len(b.probes))
	for _, p := range b.probes {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
