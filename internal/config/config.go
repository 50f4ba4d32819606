// Package config loads process configuration from the environment, an optional
// .env file and the YAML portfolio file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort                 = 8080
	DefaultConfigFile           = "config/portfolio.yaml"
	DefaultUpstreamTimeout      = 8 * time.Second
	DefaultMaxConcurrentFetches = 8
	DefaultRateLimitRPS         = 20
	DefaultRateLimitBurst       = 40
)

// Config is built once at startup and passed explicitly to every constructor.
type Config struct {
	Port                 int
	LogLevel             string
	LogFormat            string
	ConfigFile           string
	UpstreamTimeout      time.Duration
	MaxConcurrentFetches int
	RedisURL             string
	CORSAllowedOrigins   []string
	RateLimitRPS         float64
	RateLimitBurst       int

	IndexerURL     string
	FullnodeURL    string
	PriceAPIURL    string
	PanoraAPIURL   string
	PanoraAPIKey   string
	HyperionAPIURL string

	File *FileConfig
}

// Load reads .env files (missing files are ignored), the environment and the YAML file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	file, err := LoadFileOrDefault(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	file.ResolveViewURLs(cfg.FullnodeURL)
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv without touching the YAML file.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		LogLevel:       envOr(getenv, "LOG_LEVEL", "info"),
		LogFormat:      envOr(getenv, "LOG_FORMAT", "json"),
		ConfigFile:     envOr(getenv, "CONFIG_FILE", DefaultConfigFile),
		RedisURL:       strings.TrimSpace(getenv("REDIS_URL")),
		IndexerURL:     strings.TrimSpace(getenv("INDEXER_URL")),
		FullnodeURL:    strings.TrimSpace(getenv("FULLNODE_URL")),
		PriceAPIURL:    strings.TrimSpace(getenv("PRICE_API_URL")),
		PanoraAPIURL:   strings.TrimSpace(getenv("PANORA_API_URL")),
		PanoraAPIKey:   strings.TrimSpace(getenv("PANORA_API_KEY")),
		HyperionAPIURL: strings.TrimSpace(getenv("HYPERION_API_URL")),
	}
	cfg.CORSAllowedOrigins = splitAndTrimCSV(getenv("CORS_ALLOWED_ORIGINS"))

	var err error
	if cfg.Port, err = envInt(getenv, "PORT", DefaultPort); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentFetches, err = envInt(getenv, "MAX_CONCURRENT_FETCHES", DefaultMaxConcurrentFetches); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt(getenv, "RATE_LIMIT_BURST", DefaultRateLimitBurst); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = envDuration(getenv, "UPSTREAM_TIMEOUT", DefaultUpstreamTimeout); err != nil {
		return nil, err
	}

	cfg.RateLimitRPS = DefaultRateLimitRPS
	if raw := strings.TrimSpace(getenv("RATE_LIMIT_RPS")); raw != "" {
		rps, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("RATE_LIMIT_RPS: invalid number %q", raw)
		}
		cfg.RateLimitRPS = rps
	}

	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Port)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT: must be positive")
	}
	if c.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_FETCHES: must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS: must not be negative")
	}
	if c.File != nil {
		if err := c.File.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.ConfigFile, err)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func envDuration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func splitAndTrimCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
