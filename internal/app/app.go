// Package app wires configuration, storage, clients and services into one
// process-wide App.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kylekaufman/papertrade/internal/clients/identity"
	"github.com/kylekaufman/papertrade/internal/clients/polygon"
	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
	"github.com/kylekaufman/papertrade/internal/services/ledger"
	"github.com/kylekaufman/papertrade/internal/services/portfolio"
	"github.com/kylekaufman/papertrade/internal/services/quote"
	"github.com/kylekaufman/papertrade/internal/services/session"
	"github.com/kylekaufman/papertrade/internal/services/watchlist"
	"github.com/kylekaufman/papertrade/internal/storage"
)

// App holds all initialized services and clients. It is shared by the HTTP
// server and cmd/papertrade-server.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	IdentityClient   interfaces.IdentityClient
	MarketData       interfaces.MarketDataClient
	Events           *ledger.Broadcaster
	LedgerService    interfaces.LedgerService
	SessionService   interfaces.SessionService
	QuoteService     interfaces.QuoteService
	WatchlistService interfaces.WatchlistService
	PortfolioService interfaces.PortfolioService
	StartupTime      time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the config file: PAPERTRADE_CONFIG, then
// papertrade.toml next to the binary, then config/papertrade.toml.
func ResolveConfigPath() string {
	if p := os.Getenv("PAPERTRADE_CONFIG"); p != "" {
		return p
	}
	p := filepath.Join(getBinaryDir(), "papertrade.toml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return "config/papertrade.toml"
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// NewApp loads config and initializes storage, clients and services.
// configPath may be empty, in which case ResolveConfigPath is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	if configPath == "" {
		configPath = ResolveConfigPath()
	}
	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Relative data paths are anchored to the binary directory
	binDir := getBinaryDir()
	config.Storage.Ledger.Path = resolvePath(binDir, config.Storage.Ledger.Path)
	config.Storage.Charts.Path = resolvePath(binDir, config.Storage.Charts.Path)
	config.Logging.FilePath = resolvePath(binDir, config.Logging.FilePath)

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := New(config, logger, storageManager)
	a.StartupTime = startupStart

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// New builds clients and services over an already opened storage manager.
func New(config *common.Config, logger *common.Logger, sm interfaces.StorageManager) *App {
	identityClient := identity.NewClient(
		identity.WithBaseURL(config.Clients.Identity.BaseURL),
		identity.WithTimeout(config.Clients.Identity.GetTimeout()),
		identity.WithLogger(logger),
	)

	if config.Clients.Polygon.APIKey == "" {
		logger.Warn().Msg("Polygon API key not configured - quotes and charts will be unavailable")
	}
	polygonClient := polygon.NewClient(config.Clients.Polygon.APIKey,
		polygon.WithBaseURL(config.Clients.Polygon.BaseURL),
		polygon.WithRateLimit(config.Clients.Polygon.RateLimit),
		polygon.WithTimeout(config.Clients.Polygon.GetTimeout()),
		polygon.WithLogger(logger),
	)

	events := ledger.NewBroadcaster(logger)
	events.AddObserver(ledger.ObserverFunc(func(e models.LedgerEvent) {
		logger.Debug().
			Str("type", string(e.Type)).
			Str("user_id", e.UserID).
			Str("balance", e.Balance.StringFixed(2)).
			Msg("Ledger event")
	}))

	ledgerService := ledger.NewService(sm.LedgerStore(), events, logger,
		ledger.WithStartingBalance(config.Session.GetStartingBalance()),
	)

	sessionManager := session.NewManager(identityClient, ledgerService, sm.KeyValueStore(), logger,
		session.WithTokenLifetime(config.Session.GetTokenLifetime()),
	)
	sessionManager.OnChange(func(e models.SessionEvent) {
		logger.Info().
			Str("from", string(e.From)).
			Str("to", string(e.To)).
			Str("user_id", e.UserID).
			Str("reason", e.Reason).
			Msg("Session changed")
	})

	quoteService := quote.NewService(polygonClient, sm.ChartCache(), logger,
		quote.WithConcurrency(config.Clients.Polygon.MaxConcurrency),
	)
	watchlistService := watchlist.NewService(sm.LedgerStore(), quoteService, config.Watchlist.DefaultTickers, logger)
	portfolioService := portfolio.NewService(ledgerService, quoteService, logger)

	return &App{
		Config:           config,
		Logger:           logger,
		Storage:          sm,
		IdentityClient:   identityClient,
		MarketData:       polygonClient,
		Events:           events,
		LedgerService:    ledgerService,
		SessionService:   sessionManager,
		QuoteService:     quoteService,
		WatchlistService: watchlistService,
		PortfolioService: portfolioService,
		StartupTime:      time.Now(),
	}
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
		a.Storage = nil
	}
}
