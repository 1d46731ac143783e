// Package portfolio values a user's holdings at current quotes
package portfolio

import (
	"context"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
	"github.com/kylekaufman/papertrade/internal/services/quote"
)

// Compile-time interface check
var _ interfaces.PortfolioService = (*Service)(nil)

// Service implements PortfolioService
type Service struct {
	ledger interfaces.LedgerService
	quotes interfaces.QuoteService
	logger *common.Logger
}

// NewService creates a new portfolio service
func NewService(ledger interfaces.LedgerService, quotes interfaces.QuoteService, logger *common.Logger) *Service {
	return &Service{
		ledger: ledger,
		quotes: quotes,
		logger: logger,
	}
}

// Snapshot quotes every held ticker concurrently and values the portfolio.
// Tickers without a quote are reported in Unpriced and left out of the total.
func (s *Service) Snapshot(ctx context.Context, userID string) (*models.PortfolioValuation, error) {
	holdings, err := s.ledger.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}

	batch := &models.QuoteBatch{}
	if len(holdings) > 0 {
		tickers := make([]string, 0, len(holdings))
		for _, h := range holdings {
			tickers = append(tickers, h.Ticker)
		}
		if batch, err = s.quotes.GetQuotes(ctx, tickers); err != nil {
			return nil, err
		}
	}

	valuation, err := s.ledger.ValuePortfolio(ctx, userID, quote.Lookup(batch))
	if err != nil {
		return nil, err
	}

	if !valuation.Complete() {
		s.logger.Warn().
			Str("user_id", userID).
			Strs("unpriced", valuation.Unpriced).
			Msg("Portfolio valued without quotes for some holdings")
	}
	s.logger.Debug().
		Str("user_id", userID).
		Int("holdings", len(valuation.Holdings)).
		Str("total", valuation.TotalValue.StringFixed(2)).
		Msg("Portfolio snapshot")
	return valuation, nil
}
