// Package main is the entry point of the DeFi portfolio service.
// Configuration comes from the environment (.env supported) and the YAML file
// named by CONFIG_FILE.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/defi_portfolio/internal/cache"
	"github.com/R3E-Network/defi_portfolio/internal/config"
	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	"github.com/R3E-Network/defi_portfolio/internal/httputil"
	"github.com/R3E-Network/defi_portfolio/internal/logging"
	"github.com/R3E-Network/defi_portfolio/services/actions"
	"github.com/R3E-Network/defi_portfolio/services/aggregator"
	"github.com/R3E-Network/defi_portfolio/services/balances"
	commonservice "github.com/R3E-Network/defi_portfolio/services/common/service"
	portfoliosvc "github.com/R3E-Network/defi_portfolio/services/portfolio"
	"github.com/R3E-Network/defi_portfolio/services/sources"
	"github.com/R3E-Network/defi_portfolio/services/swap"
)

const (
	userAgent          = "defi-portfolio/" + portfoliosvc.Version
	cachePruneInterval = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault(portfoliosvc.ServiceID).WithError(err).Fatal("failed to load configuration")
	}
	log := logging.New(portfoliosvc.ServiceID, cfg.LogLevel, cfg.LogFormat)

	store, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("failed to create cache")
	}
	defer store.Close()

	var probes []commonservice.HealthProbe
	workers := map[string]portfoliosvc.TickerWorker{}
	switch c := store.(type) {
	case *cache.Redis:
		probes = append(probes, commonservice.HealthProbe{Name: "redis", Check: c.Ping})
	case *cache.Memory:
		workers["cache-prune"] = portfoliosvc.TickerWorker{
			Interval: cachePruneInterval,
			Run: func(context.Context) error {
				c.Prune()
				return nil
			},
		}
	}

	client := httputil.NewUpstreamClient(httputil.UpstreamClientConfig{
		Timeout:   cfg.UpstreamTimeout,
		UserAgent: userAgent,
	})
	tokens := portfolio.NewTokenTable(cfg.File.Tokens)

	agg := aggregator.New(aggregator.Config{
		Registry:             aggregator.NewRegistry(cfg.File.Sources),
		Fetcher:              sources.NewHTTPFetcher(client),
		Transformer:          aggregator.NewTransformer(),
		Cache:                store,
		MaxConcurrentFetches: cfg.MaxConcurrentFetches,
		Logger:               log,
	})

	bal := balances.NewService(
		sources.NewBalanceSource(client, cfg.IndexerURL),
		sources.NewPriceSource(client, cfg.PriceAPIURL),
		tokens, log)

	router := swap.NewRouter(tokens, log,
		swap.NewPanora(client, cfg.PanoraAPIURL, cfg.PanoraAPIKey),
		swap.NewHyperion(client, cfg.HyperionAPIURL),
	)

	acts, err := actions.NewRegistry(cfg.File.Protocols)
	if err != nil {
		log.WithError(err).Fatal("failed to build action protocols")
	}

	svc, err := portfoliosvc.New(portfoliosvc.Config{
		Aggregator:         agg,
		Balances:           bal,
		Swaps:              router,
		Actions:            acts,
		Logger:             log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		Probes:             probes,
		Workers:            workers,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create service")
	}

	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start service")
	}

	enabled, total := agg.Registry().Counts()
	log.WithField("sources_enabled", enabled).
		WithField("sources_total", total).
		WithField("tokens", tokens.Len()).
		WithField("protocols", acts.Protocols()).
		Info("configuration loaded")

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("portfolio service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	if err := svc.Stop(); err != nil {
		log.WithError(err).Warn("service stop error")
	}
	log.Info("service stopped")
}
