// Package common provides shared utilities for papertrade
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for papertrade
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Session     SessionConfig   `toml:"session"`
	Watchlist   WatchlistConfig `toml:"watchlist"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds configuration for the ledger database and chart cache.
type StorageConfig struct {
	Ledger AreaConfig  `toml:"ledger"` // Accounts, holdings, transactions, watchlists, KV (BadgerHold)
	Charts ChartConfig `toml:"charts"` // Price history cache (file-based JSON)
}

// AreaConfig holds path configuration for a storage area.
type AreaConfig struct {
	Path string `toml:"path"`
}

// ChartConfig bounds the per-(ticker, range) price history cache.
type ChartConfig struct {
	Path       string `toml:"path"`
	MaxEntries int    `toml:"max_entries"`
	EvictBatch int    `toml:"evict_batch"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Identity IdentityConfig `toml:"identity"`
	Polygon  PolygonConfig  `toml:"polygon"`
}

// IdentityConfig holds the identity service configuration
type IdentityConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *IdentityConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 15*time.Second)
}

// PolygonConfig holds market data API configuration
type PolygonConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RateLimit      int    `toml:"rate_limit"`
	Timeout        string `toml:"timeout"`
	MaxConcurrency int    `toml:"max_concurrency"` // parallel quote fetches in a batch
}

// GetTimeout parses and returns the timeout duration
func (c *PolygonConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	TokenLifetime   string `toml:"token_lifetime"`   // duration string, default "168h"
	StartingBalance string `toml:"starting_balance"` // decimal string, default "1000.00"
}

// GetTokenLifetime parses and returns the token lifetime.
func (c *SessionConfig) GetTokenLifetime() time.Duration {
	return parseDuration(c.TokenLifetime, 7*24*time.Hour)
}

// GetStartingBalance parses the balance given to new accounts. Invalid or
// negative values fall back to 1000.
func (c *SessionConfig) GetStartingBalance() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(c.StartingBalance))
	if err != nil || d.IsNegative() {
		return decimal.NewFromInt(1000)
	}
	return d
}

// WatchlistConfig holds favorites defaults
type WatchlistConfig struct {
	DefaultTickers []string `toml:"default_tickers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`  // "json" or "text"
	Outputs  []string `toml:"outputs"` // "console", "file"
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Storage: StorageConfig{
			Ledger: AreaConfig{Path: "data/ledger"},
			Charts: ChartConfig{
				Path:       "data/charts",
				MaxEntries: 100,
				EvictBatch: 5,
			},
		},
		Clients: ClientsConfig{
			Identity: IdentityConfig{
				BaseURL: "http://localhost:3000",
				Timeout: "15s",
			},
			Polygon: PolygonConfig{
				BaseURL:        "https://api.polygon.io",
				RateLimit:      5,
				Timeout:        "30s",
				MaxConcurrency: 4,
			},
		},
		Session: SessionConfig{
			TokenLifetime:   "168h",
			StartingBalance: "1000.00",
		},
		Watchlist: WatchlistConfig{
			DefaultTickers: []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Outputs:  []string{"console"},
			FilePath: "./logs/papertrade.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	normalize(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PAPERTRADE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PAPERTRADE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PAPERTRADE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("PAPERTRADE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("PAPERTRADE_DATA_PATH"); path != "" {
		config.Storage.Ledger.Path = filepath.Join(path, "ledger")
		config.Storage.Charts.Path = filepath.Join(path, "charts")
	}

	if url := os.Getenv("PAPERTRADE_IDENTITY_URL"); url != "" {
		config.Clients.Identity.BaseURL = url
	}

	for _, name := range []string{"POLYGON_API_KEY", "PAPERTRADE_POLYGON_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Clients.Polygon.APIKey = v
			break
		}
	}

	if v := os.Getenv("PAPERTRADE_TOKEN_LIFETIME"); v != "" {
		config.Session.TokenLifetime = v
	}
}

// normalize clamps cache bounds and cleans the default watchlist.
func normalize(config *Config) {
	if config.Storage.Charts.MaxEntries <= 0 {
		config.Storage.Charts.MaxEntries = 100
	}
	if config.Storage.Charts.EvictBatch <= 0 {
		config.Storage.Charts.EvictBatch = 5
	}
	if config.Clients.Polygon.MaxConcurrency <= 0 {
		config.Clients.Polygon.MaxConcurrency = 4
	}

	seen := make(map[string]bool)
	tickers := make([]string, 0, len(config.Watchlist.DefaultTickers))
	for _, t := range config.Watchlist.DefaultTickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	config.Watchlist.DefaultTickers = tickers
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
