// Package ledgerdb implements the ledger stores using BadgerHold.
// Accounts, holdings, the transaction log, watchlists and device-level KV
// share one database so a single badger transaction spans all of them.
package ledgerdb

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// keySep is the composite key separator for holding records. A null byte
// cannot appear in a user ID or ticker.
const keySep = "\x00"

// Store implements interfaces.LedgerStore and interfaces.KeyValueStore.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

var (
	_ interfaces.LedgerStore   = (*Store)(nil)
	_ interfaces.KeyValueStore = (*Store)(nil)
)

// NewStore opens (or creates) the ledger database at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger db path %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("LedgerDB opened")
	return &Store{db: db, logger: logger}, nil
}

// Update runs fn in one read-write badger transaction.
func (s *Store) Update(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Badger().Update(func(txn *badger.Txn) error {
		return fn(&ledgerTx{db: s.db, txn: txn})
	})
}

// View runs fn in a read-only badger transaction.
func (s *Store) View(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Badger().View(func(txn *badger.Txn) error {
		return fn(&ledgerTx{db: s.db, txn: txn})
	})
}

// --- Device-level key-value ---

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.View(ctx, func(tx interfaces.LedgerTx) error {
		v, err := tx.GetKV(key)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		value = v
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get kv '%s': %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.Update(ctx, func(tx interfaces.LedgerTx) error { return tx.SetKV(key, value) }); err != nil {
		return fmt.Errorf("failed to set kv '%s': %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.Update(ctx, func(tx interfaces.LedgerTx) error { return tx.DeleteKV(key) }); err != nil {
		return fmt.Errorf("failed to delete kv '%s': %w", key, err)
	}
	return nil
}

// Close shuts down the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func holdingKey(userID, ticker string) string {
	return userID + keySep + ticker
}
