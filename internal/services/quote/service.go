// Package quote provides previous-close quotes, ticker search and cached
// price history
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

const (
	DefaultConcurrency = 4
	DefaultSearchLimit = 10
)

// Compile-time interface check
var _ interfaces.QuoteService = (*Service)(nil)

// Service implements QuoteService on top of a market data client and the
// chart cache.
type Service struct {
	client      interfaces.MarketDataClient
	cache       interfaces.ChartCache
	logger      *common.Logger
	concurrency int
	searchLimit int
	now         func() time.Time // injectable clock for testing
}

// Option configures the service
type Option func(*Service)

// WithConcurrency bounds parallel fetches in a batch.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSearchLimit sets the maximum number of search results.
func WithSearchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.searchLimit = n
		}
	}
}

// NewService creates a new quote service.
// cache may be nil, in which case price history is always fetched.
func NewService(client interfaces.MarketDataClient, cache interfaces.ChartCache, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		client:      client,
		cache:       cache,
		logger:      logger,
		concurrency: DefaultConcurrency,
		searchLimit: DefaultSearchLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeTicker(ticker string) (string, error) {
	t := models.NormalizeTicker(ticker)
	if t == "" {
		return "", fmt.Errorf("%w: ticker is required", models.ErrInvalidAmount)
	}
	return t, nil
}

// GetQuote returns the previous close for one ticker.
func (s *Service) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	t, err := normalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	q, err := s.client.GetPreviousClose(ctx, t)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticker", t).Msg("Quote fetch failed")
		return nil, err
	}
	return q, nil
}

// GetQuotes fetches quotes concurrently. A ticker that fails is recorded in
// Failed and the rest of the batch continues; only cancellation of ctx fails
// the whole call.
func (s *Service) GetQuotes(ctx context.Context, tickers []string) (*models.QuoteBatch, error) {
	batch := &models.QuoteBatch{
		Quotes: make(map[string]*models.Quote),
		Failed: make(map[string]string),
	}

	unique := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = models.NormalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, t := range unique {
		t := t
		g.Go(func() error {
			q, err := s.client.GetPreviousClose(gctx, t)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				batch.Failed[t] = err.Error()
				mu.Unlock()
				return nil
			}
			mu.Lock()
			batch.Quotes[t] = q
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(batch.Failed) > 0 {
		failed := make([]string, 0, len(batch.Failed))
		for t := range batch.Failed {
			failed = append(failed, t)
		}
		s.logger.Warn().
			Int("requested", len(unique)).
			Int("quoted", len(batch.Quotes)).
			Strs("failed", failed).
			Msg("Quote batch incomplete")
	}
	return batch, nil
}

// Lookup adapts a batch to the ledger's quote lookup.
func Lookup(batch *models.QuoteBatch) interfaces.QuoteLookup {
	return batch.Price
}

// SearchTickers searches by name or symbol. A blank query returns nothing.
func (s *Service) SearchTickers(ctx context.Context, query string) ([]*models.TickerInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.TickerInfo{}, nil
	}
	results, err := s.client.SearchTickers(ctx, query, s.searchLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", query).Msg("Ticker search failed")
		return nil, err
	}
	return results, nil
}

// GetPriceHistory reads the chart cache first and fetches when the entry is
// missing or older than the range's freshness window. If the fetch fails a
// stale cached entry is served instead.
func (s *Service) GetPriceHistory(ctx context.Context, ticker string, r models.ChartRange) (*models.PriceHistory, error) {
	t, err := normalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	r, ok := models.ParseChartRange(string(r))
	if !ok {
		return nil, fmt.Errorf("%w: unknown chart range %q", models.ErrInvalidAmount, r)
	}
	spec := r.Spec()
	now := s.now()
	from, to := r.Window(now)

	var cached *models.PriceHistory
	if s.cache != nil {
		cached, err = s.cache.Get(ctx, t, r)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Err(err).Str("ticker", t).Str("range", string(r)).Msg("Chart cache read failed")
		}
		if cached != nil && common.IsFresh(cached.UpdatedAt, now, spec.Freshness) {
			s.logger.Debug().Str("ticker", t).Str("range", string(r)).Msg("Chart cache hit")
			return inWindow(cached, from), nil
		}
	}

	bars, err := s.client.GetAggregates(ctx, t, spec.Multiplier, spec.Timespan, from, to)
	if err != nil {
		if cached != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("ticker", t).Str("range", string(r)).Msg("History fetch failed, serving stale cache")
			return inWindow(cached, from), nil
		}
		s.logger.Warn().Err(err).Str("ticker", t).Str("range", string(r)).Msg("History fetch failed")
		return nil, err
	}

	history := &models.PriceHistory{Ticker: t, Range: r, Bars: bars, UpdatedAt: now}
	if s.cache != nil {
		saved, err := s.cache.Save(ctx, history)
		if err != nil {
			s.logger.Warn().Err(err).Str("ticker", t).Str("range", string(r)).Msg("Chart cache write failed")
		} else {
			history = saved
		}
	}
	return inWindow(history, from), nil
}

// inWindow returns h limited to bars on or after the start of from's day.
// Cached series keep older bars from earlier merges.
func inWindow(h *models.PriceHistory, from time.Time) *models.PriceHistory {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	out := *h
	out.Bars = make([]models.PriceBar, 0, len(h.Bars))
	for _, b := range h.Bars {
		if !b.Timestamp.Before(start) {
			out.Bars = append(out.Bars, b)
		}
	}
	return &out
}
