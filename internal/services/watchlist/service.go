// Package watchlist provides per-user favorite ticker management
package watchlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// Compile-time interface check
var _ interfaces.WatchlistService = (*Service)(nil)

// Service implements WatchlistService
type Service struct {
	store    interfaces.LedgerStore
	quotes   interfaces.QuoteService
	defaults []string
	logger   *common.Logger
}

// NewService creates a new watchlist service. defaults seeds the list of a
// user who has never saved one; nil means models.DefaultWatchlist.
func NewService(store interfaces.LedgerStore, quotes interfaces.QuoteService, defaults []string, logger *common.Logger) *Service {
	if defaults == nil {
		defaults = models.DefaultWatchlist
	}
	return &Service{
		store:    store,
		quotes:   quotes,
		defaults: append([]string(nil), defaults...),
		logger:   logger,
	}
}

func (s *Service) load(tx interfaces.LedgerTx, userID string) (*models.Watchlist, error) {
	wl, err := tx.GetWatchlist(userID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.Watchlist{UserID: userID, Tickers: append([]string(nil), s.defaults...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get watchlist: %v", models.ErrPersistence, err)
	}
	return wl, nil
}

// List returns the user's watchlist, or the defaults if none is saved.
func (s *Service) List(ctx context.Context, userID string) (*models.Watchlist, error) {
	var wl *models.Watchlist
	err := s.store.View(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		wl, err = s.load(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wl, nil
}

// Add appends ticker if it is not already listed.
func (s *Service) Add(ctx context.Context, userID, ticker string) (*models.Watchlist, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", models.ErrInvalidAmount)
	}
	return s.update(ctx, userID, ticker, "Watchlist ticker added", func(wl *models.Watchlist) bool {
		if wl.Contains(ticker) {
			return false
		}
		wl.Tickers = append(wl.Tickers, ticker)
		return true
	})
}

// Remove drops ticker from the list. Removing an absent ticker is a no-op.
func (s *Service) Remove(ctx context.Context, userID, ticker string) (*models.Watchlist, error) {
	ticker = models.NormalizeTicker(ticker)
	return s.update(ctx, userID, ticker, "Watchlist ticker removed", func(wl *models.Watchlist) bool {
		kept := wl.Tickers[:0]
		for _, t := range wl.Tickers {
			if t != ticker {
				kept = append(kept, t)
			}
		}
		changed := len(kept) != len(wl.Tickers)
		wl.Tickers = kept
		return changed
	})
}

func (s *Service) update(ctx context.Context, userID, ticker, msg string, mutate func(*models.Watchlist) bool) (*models.Watchlist, error) {
	var wl *models.Watchlist
	changed := false
	err := s.store.Update(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		if wl, err = s.load(tx, userID); err != nil {
			return err
		}
		if changed = mutate(wl); !changed {
			return nil
		}
		if err := tx.PutWatchlist(wl); err != nil {
			return fmt.Errorf("%w: failed to save watchlist: %v", models.ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info().Str("user_id", userID).Str("ticker", ticker).Int("count", len(wl.Tickers)).Msg(msg)
	}
	return wl, nil
}

// Quotes returns the watchlist with a batch quote for every ticker on it.
// Tickers that could not be quoted are listed in the batch's Failed map.
func (s *Service) Quotes(ctx context.Context, userID string) (*models.Watchlist, *models.QuoteBatch, error) {
	wl, err := s.List(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	batch, err := s.quotes.GetQuotes(ctx, wl.Tickers)
	if err != nil {
		return nil, nil, err
	}
	return wl, batch, nil
}
