package interfaces

import (
	"context"

	"github.com/kylekaufman/papertrade/internal/models"
	"github.com/shopspring/decimal"
)

// QuoteLookup resolves a ticker to a price. ok is false when no quote is
// available; callers must not substitute zero.
type QuoteLookup func(ticker string) (price decimal.Decimal, ok bool)

// LedgerService is the sole mutator of balances, holdings and the log.
type LedgerService interface {
	OpenAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	UpdateProfile(ctx context.Context, userID string, profile *models.Profile) (*models.Account, error)
	DeleteAccount(ctx context.Context, userID string) error

	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Buy(ctx context.Context, userID, ticker string, quantity int64, pricePerShare decimal.Decimal) (decimal.Decimal, error)
	Sell(ctx context.Context, userID, ticker string, quantity int64, pricePerShare decimal.Decimal) (decimal.Decimal, error)

	Holdings(ctx context.Context, userID string) ([]*models.Holding, error)
	Transactions(ctx context.Context, userID string, opts models.TransactionListOptions) ([]*models.TransactionEntry, error)
	ValuePortfolio(ctx context.Context, userID string, lookup QuoteLookup) (*models.PortfolioValuation, error)
	Reconcile(ctx context.Context, userID string) (*models.ReconcileReport, error)
}

// SessionService owns the authenticated/guest lifecycle.
type SessionService interface {
	Current() models.Session
	RequireActive(ctx context.Context) (models.Session, error)
	Resume(ctx context.Context) (models.Session, error)
	SignIn(ctx context.Context, username, password string) (models.Session, error)
	ContinueAsGuest(ctx context.Context) (models.Session, error)
	Logout(ctx context.Context) error

	SignUp(ctx context.Context, req models.SignUpRequest) (*models.SignUpResult, error)
	VerifyEmail(ctx context.Context, username, code string) error
	ResendCode(ctx context.Context, username string) error
	ResetPassword(ctx context.Context, email string) error
	ConfirmResetPassword(ctx context.Context, email, code, password string) error
	Profile(ctx context.Context) (*models.Profile, error)
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.Profile, error)
}

// QuoteService serves quotes, search and price history.
type QuoteService interface {
	GetQuote(ctx context.Context, ticker string) (*models.Quote, error)
	GetQuotes(ctx context.Context, tickers []string) (*models.QuoteBatch, error)
	SearchTickers(ctx context.Context, query string) ([]*models.TickerInfo, error)
	GetPriceHistory(ctx context.Context, ticker string, r models.ChartRange) (*models.PriceHistory, error)
}

// WatchlistService manages a user's favorite tickers.
type WatchlistService interface {
	List(ctx context.Context, userID string) (*models.Watchlist, error)
	Add(ctx context.Context, userID, ticker string) (*models.Watchlist, error)
	Remove(ctx context.Context, userID, ticker string) (*models.Watchlist, error)
	Quotes(ctx context.Context, userID string) (*models.Watchlist, *models.QuoteBatch, error)
}

// PortfolioService values a user's holdings at live prices.
type PortfolioService interface {
	Snapshot(ctx context.Context, userID string) (*models.PortfolioValuation, error)
}
