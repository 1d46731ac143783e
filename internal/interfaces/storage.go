// Package interfaces defines service contracts for papertrade
package interfaces

import (
	"context"

	"github.com/kylekaufman/papertrade/internal/models"
)

// StorageManager coordinates the storage areas.
type StorageManager interface {
	LedgerStore() LedgerStore
	KeyValueStore() KeyValueStore
	ChartCache() ChartCache

	// DataPath returns the base data directory path.
	DataPath() string

	// PurgeCharts deletes every cached price history file.
	PurgeCharts() (int, error)

	Close() error
}

// LedgerStore is the transactional store behind accounts, holdings, the
// transaction log and watchlists. Every write made through a LedgerTx inside
// one Update call commits or rolls back together.
type LedgerStore interface {
	// Update runs fn in a read-write transaction. A non-nil error from fn
	// discards every write made in it.
	Update(ctx context.Context, fn func(tx LedgerTx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx LedgerTx) error) error

	Close() error
}

// LedgerTx exposes record-level access inside a transaction. Missing records
// return models.ErrNotFound.
type LedgerTx interface {
	// Accounts
	GetAccount(userID string) (*models.Account, error)
	PutAccount(account *models.Account) error
	DeleteAccount(userID string) error

	// Holdings
	GetHolding(userID, ticker string) (*models.Holding, error)
	PutHolding(holding *models.Holding) error
	DeleteHolding(userID, ticker string) error
	ListHoldings(userID string) ([]*models.Holding, error)
	DeleteHoldings(userID string) (int, error)

	// Transaction log (append-only)
	AppendTransaction(entry *models.TransactionEntry) error
	ListTransactions(userID string) ([]*models.TransactionEntry, error)
	DeleteTransactions(userID string) (int, error)

	// Watchlists
	GetWatchlist(userID string) (*models.Watchlist, error)
	PutWatchlist(watchlist *models.Watchlist) error
	DeleteWatchlist(userID string) error

	// Device-level key-value
	GetKV(key string) (string, error)
	SetKV(key, value string) error
	DeleteKV(key string) error
}

// KeyValueStore is single-key access to device-level settings outside a
// ledger transaction. Get returns "" with no error for an unset key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ChartCache is the read-through file cache for price history, keyed by
// (ticker, range).
type ChartCache interface {
	Get(ctx context.Context, ticker string, r models.ChartRange) (*models.PriceHistory, error)
	Save(ctx context.Context, history *models.PriceHistory) (*models.PriceHistory, error)
	Delete(ctx context.Context, ticker string, r models.ChartRange) error
	Purge() (int, error)
}
