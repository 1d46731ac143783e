package ledgerdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// ledgerTx binds badgerhold's Tx* calls to one badger transaction.
type ledgerTx struct {
	db  *badgerhold.Store
	txn *badger.Txn
}

var _ interfaces.LedgerTx = (*ledgerTx)(nil)

func notFound(err error) bool {
	return errors.Is(err, badgerhold.ErrNotFound)
}

// --- Accounts ---

func (t *ledgerTx) GetAccount(userID string) (*models.Account, error) {
	var account models.Account
	if err := t.db.TxGet(t.txn, userID, &account); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("account '%s': %w", userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account '%s': %w", userID, err)
	}
	return &account, nil
}

func (t *ledgerTx) PutAccount(account *models.Account) error {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if err := t.db.TxUpsert(t.txn, account.UserID, account); err != nil {
		return fmt.Errorf("failed to save account '%s': %w", account.UserID, err)
	}
	return nil
}

func (t *ledgerTx) DeleteAccount(userID string) error {
	if err := t.db.TxDelete(t.txn, userID, models.Account{}); err != nil && !notFound(err) {
		return fmt.Errorf("failed to delete account '%s': %w", userID, err)
	}
	return nil
}

// --- Holdings ---

func (t *ledgerTx) GetHolding(userID, ticker string) (*models.Holding, error) {
	var holding models.Holding
	if err := t.db.TxGet(t.txn, holdingKey(userID, ticker), &holding); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("holding '%s' for '%s': %w", ticker, userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get holding '%s' for '%s': %w", ticker, userID, err)
	}
	return &holding, nil
}

func (t *ledgerTx) PutHolding(holding *models.Holding) error {
	if holding.Quantity <= 0 {
		return fmt.Errorf("holding '%s' for '%s' has non-positive quantity %d", holding.Ticker, holding.UserID, holding.Quantity)
	}
	holding.UpdatedAt = time.Now()
	if err := t.db.TxUpsert(t.txn, holdingKey(holding.UserID, holding.Ticker), holding); err != nil {
		return fmt.Errorf("failed to save holding '%s' for '%s': %w", holding.Ticker, holding.UserID, err)
	}
	return nil
}

func (t *ledgerTx) DeleteHolding(userID, ticker string) error {
	if err := t.db.TxDelete(t.txn, holdingKey(userID, ticker), models.Holding{}); err != nil && !notFound(err) {
		return fmt.Errorf("failed to delete holding '%s' for '%s': %w", ticker, userID, err)
	}
	return nil
}

func (t *ledgerTx) ListHoldings(userID string) ([]*models.Holding, error) {
	var holdings []models.Holding
	query := badgerhold.Where("UserID").Eq(userID).SortBy("Ticker")
	if err := t.db.TxFind(t.txn, &holdings, query); err != nil {
		return nil, fmt.Errorf("failed to list holdings for '%s': %w", userID, err)
	}
	result := make([]*models.Holding, len(holdings))
	for i := range holdings {
		result[i] = &holdings[i]
	}
	return result, nil
}

func (t *ledgerTx) DeleteHoldings(userID string) (int, error) {
	holdings, err := t.ListHoldings(userID)
	if err != nil {
		return 0, err
	}
	for _, h := range holdings {
		if err := t.DeleteHolding(userID, h.Ticker); err != nil {
			return 0, err
		}
	}
	return len(holdings), nil
}

// --- Transaction log ---

// AppendTransaction inserts a new entry. An existing ID is rejected so
// entries are never overwritten.
func (t *ledgerTx) AppendTransaction(entry *models.TransactionEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("transaction entry has no id")
	}
	if err := t.db.TxInsert(t.txn, entry.ID, entry); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("transaction '%s' already recorded", entry.ID)
		}
		return fmt.Errorf("failed to append transaction '%s': %w", entry.ID, err)
	}
	return nil
}

// ListTransactions returns a user's entries in sequence order.
func (t *ledgerTx) ListTransactions(userID string) ([]*models.TransactionEntry, error) {
	var entries []models.TransactionEntry
	query := badgerhold.Where("UserID").Eq(userID).SortBy("Sequence")
	if err := t.db.TxFind(t.txn, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list transactions for '%s': %w", userID, err)
	}
	result := make([]*models.TransactionEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (t *ledgerTx) DeleteTransactions(userID string) (int, error) {
	entries, err := t.ListTransactions(userID)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := t.db.TxDelete(t.txn, e.ID, models.TransactionEntry{}); err != nil && !notFound(err) {
			return 0, fmt.Errorf("failed to delete transaction '%s': %w", e.ID, err)
		}
	}
	return len(entries), nil
}

// --- Watchlists ---

func (t *ledgerTx) GetWatchlist(userID string) (*models.Watchlist, error) {
	var wl models.Watchlist
	if err := t.db.TxGet(t.txn, userID, &wl); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("watchlist for '%s': %w", userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get watchlist for '%s': %w", userID, err)
	}
	return &wl, nil
}

func (t *ledgerTx) PutWatchlist(watchlist *models.Watchlist) error {
	watchlist.UpdatedAt = time.Now()
	if err := t.db.TxUpsert(t.txn, watchlist.UserID, watchlist); err != nil {
		return fmt.Errorf("failed to save watchlist for '%s': %w", watchlist.UserID, err)
	}
	return nil
}

func (t *ledgerTx) DeleteWatchlist(userID string) error {
	if err := t.db.TxDelete(t.txn, userID, models.Watchlist{}); err != nil && !notFound(err) {
		return fmt.Errorf("failed to delete watchlist for '%s': %w", userID, err)
	}
	return nil
}

// --- Key-value ---

func (t *ledgerTx) GetKV(key string) (string, error) {
	var kv models.KeyValue
	if err := t.db.TxGet(t.txn, key, &kv); err != nil {
		if notFound(err) {
			return "", fmt.Errorf("key '%s': %w", key, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get key '%s': %w", key, err)
	}
	return kv.Value, nil
}

func (t *ledgerTx) SetKV(key, value string) error {
	kv := &models.KeyValue{Key: key, Value: value, UpdatedAt: time.Now()}
	if err := t.db.TxUpsert(t.txn, key, kv); err != nil {
		return fmt.Errorf("failed to set key '%s': %w", key, err)
	}
	return nil
}

func (t *ledgerTx) DeleteKV(key string) error {
	if err := t.db.TxDelete(t.txn, key, models.KeyValue{}); err != nil && !notFound(err) {
		return fmt.Errorf("failed to delete key '%s': %w", key, err)
	}
	return nil
}
