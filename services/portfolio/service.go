// Package portfolio provides the HTTP service for pool aggregation, wallet
// balances, swap quotes and protocol action payloads.
package portfolio

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/R3E-Network/defi_portfolio/internal/logging"
	"github.com/R3E-Network/defi_portfolio/internal/middleware"
	"github.com/R3E-Network/defi_portfolio/services/actions"
	"github.com/R3E-Network/defi_portfolio/services/aggregator"
	"github.com/R3E-Network/defi_portfolio/services/balances"
	commonservice "github.com/R3E-Network/defi_portfolio/services/common/service"
	"github.com/R3E-Network/defi_portfolio/services/swap"
)

const (
	ServiceID   = "portfolio"
	ServiceName = "DeFi Portfolio Service"
	Version     = "1.0.0"

	rateLimiterCleanupInterval = time.Minute
)

// Service wires the engine components behind the HTTP API.
type Service struct {
	*commonservice.BaseService

	aggregator *aggregator.Aggregator
	balances   *balances.Service
	swaps      *swap.Router
	actions    *actions.Registry
	cors       *middleware.CORSMiddleware
	limiter    *middleware.RateLimiter
}

// Config holds the service dependencies. Every component is built by the caller.
type Config struct {
	Aggregator *aggregator.Aggregator
	Balances   *balances.Service
	Swaps      *swap.Router
	Actions    *actions.Registry
	Logger     *logging.Logger

	CORSAllowedOrigins []string
	// RateLimitRPS <= 0 disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// Probes are reported by /health.
	Probes []commonservice.HealthProbe
	// Workers run until Stop, e.g. cache pruning.
	Workers map[string]TickerWorker
}

// TickerWorker is a periodic job started with the service.
type TickerWorker struct {
	Interval time.Duration
	Run      func(context.Context) error
}

// New creates the service and registers its routes.
func New(cfg Config) (*Service, error) {
	if cfg.Aggregator == nil || cfg.Balances == nil || cfg.Swaps == nil || cfg.Actions == nil {
		return nil, errors.New("portfolio: aggregator, balances, swaps and actions are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault(ServiceID)
	}

	base := commonservice.NewBase(commonservice.BaseConfig{
		ID:      ServiceID,
		Name:    ServiceName,
		Version: Version,
		Logger:  log,
	})

	s := &Service{
		BaseService: base,
		aggregator:  cfg.Aggregator,
		balances:    cfg.Balances,
		swaps:       cfg.Swaps,
		actions:     cfg.Actions,
		cors:        middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins),
	}

	if cfg.RateLimitRPS > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
		base.AddTickerWorker("ratelimit-cleanup", rateLimiterCleanupInterval, func(context.Context) error {
			s.limiter.Cleanup()
			return nil
		})
	}
	for _, p := range cfg.Probes {
		base.AddHealthProbe(p)
	}
	for name, w := range cfg.Workers {
		base.AddTickerWorker(name, w.Interval, w.Run)
	}

	// Register statistics provider for /info endpoint
	base.WithStats(s.statistics)

	router := base.Router()
	router.Use(middleware.LoggingMiddleware(log), middleware.MetricsMiddleware())
	if s.limiter != nil {
		router.Use(s.limiter.Handler)
	}

	// Register standard routes (/health, /info) plus service-specific routes
	base.RegisterStandardRoutes()
	s.registerRoutes()

	return s, nil
}

// Handler returns the root handler. CORS wraps the router so preflight
// requests are answered before route matching.
func (s *Service) Handler() http.Handler {
	return s.cors.Handler(s.Router())
}

// statistics returns runtime statistics for the /info endpoint.
func (s *Service) statistics() map[string]any {
	enabled, total := s.aggregator.Registry().Counts()
	return map[string]any{
		"sources_enabled": enabled,
		"sources_total":   total,
		"swap_providers":  s.swaps.Providers(),
		"protocols":       s.actions.Protocols(),
	}
}
