package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/models"
	"github.com/kylekaufman/papertrade/internal/storage/chartcache"
)

// --- Mocks ---

type mockMarketData struct {
	mu        sync.Mutex
	prices    map[string]string
	failures  map[string]error
	bars      []models.PriceBar
	aggErr    error
	aggCalls  int
	lastAgg   aggCall
	inFlight  int32
	maxFlight int32
	delay     time.Duration
}

type aggCall struct {
	ticker     string
	multiplier int
	timespan   models.Timespan
	from, to   time.Time
}

func (m *mockMarketData) GetPreviousClose(ctx context.Context, ticker string) (*models.Quote, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&m.maxFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&m.maxFlight, peak, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := m.failures[ticker]; ok {
		return nil, err
	}
	p, ok := m.prices[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: no previous close for %s", models.ErrInvalidResponse, ticker)
	}
	return &models.Quote{Ticker: ticker, Close: decimal.RequireFromString(p)}, nil
}

func (m *mockMarketData) GetAggregates(_ context.Context, ticker string, multiplier int, timespan models.Timespan, from, to time.Time) ([]models.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggCalls++
	m.lastAgg = aggCall{ticker, multiplier, timespan, from, to}
	if m.aggErr != nil {
		return nil, m.aggErr
	}
	return m.bars, nil
}

func (m *mockMarketData) SearchTickers(_ context.Context, query string, limit int) ([]*models.TickerInfo, error) {
	return []*models.TickerInfo{{Ticker: "AAPL", Name: "Apple Inc. " + query + fmt.Sprint(limit)}}, nil
}

var testNow = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, client *mockMarketData, opts ...Option) (*Service, *chartcache.Store) {
	t.Helper()
	logger := common.NewSilentLogger()
	cache, err := chartcache.NewStore(logger, common.ChartConfig{Path: t.TempDir()})
	require.NoError(t, err)
	svc := NewService(client, cache, logger, opts...)
	svc.now = func() time.Time { return testNow }
	return svc, cache
}

func bar(day int, close string) models.PriceBar {
	return models.PriceBar{Timestamp: time.Date(2026, 3, day, 14, 0, 0, 0, time.UTC), Close: decimal.RequireFromString(close)}
}

// --- Tests ---

func TestGetQuote(t *testing.T) {
	svc, _ := newTestService(t, &mockMarketData{prices: map[string]string{"AAPL": "154.73"}})

	q, err := svc.GetQuote(context.Background(), " aapl")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("154.73").Equal(q.Close))

	_, err = svc.GetQuote(context.Background(), "  ")
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestGetQuotes_PartialFailure(t *testing.T) {
	client := &mockMarketData{
		prices:   map[string]string{"AAPL": "150", "MSFT": "400"},
		failures: map[string]error{"TSLA": fmt.Errorf("%w: timeout", models.ErrNetwork)},
	}
	svc, _ := newTestService(t, client)

	batch, err := svc.GetQuotes(context.Background(), []string{"AAPL", "tsla", "MSFT", "aapl", "ZZZZ", ""})
	require.NoError(t, err)
	assert.Len(t, batch.Quotes, 2)
	assert.Contains(t, batch.Failed, "TSLA")
	assert.Contains(t, batch.Failed, "ZZZZ")

	price, ok := Lookup(batch)("MSFT")
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(400).Equal(price))
	_, ok = Lookup(batch)("TSLA")
	assert.False(t, ok)
}

func TestGetQuotes_BoundedConcurrency(t *testing.T) {
	prices := make(map[string]string)
	tickers := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		tk := fmt.Sprintf("T%02d", i)
		prices[tk] = "1"
		tickers = append(tickers, tk)
	}
	client := &mockMarketData{prices: prices, delay: 10 * time.Millisecond}
	svc, _ := newTestService(t, client, WithConcurrency(3))

	batch, err := svc.GetQuotes(context.Background(), tickers)
	require.NoError(t, err)
	assert.Len(t, batch.Quotes, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&client.maxFlight), int32(3))
}

func TestGetQuotes_Cancelled(t *testing.T) {
	client := &mockMarketData{prices: map[string]string{"AAPL": "1", "MSFT": "2"}, delay: time.Second}
	svc, _ := newTestService(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.GetQuotes(ctx, []string{"AAPL", "MSFT"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestSearchTickers(t *testing.T) {
	svc, _ := newTestService(t, &mockMarketData{}, WithSearchLimit(5))

	results, err := svc.SearchTickers(context.Background(), " apple ")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Apple Inc. apple5", results[0].Name)

	results, err = svc.SearchTickers(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetPriceHistory_ReadThrough(t *testing.T) {
	client := &mockMarketData{bars: []models.PriceBar{bar(1, "10"), bar(3, "12")}}
	svc, cache := newTestService(t, client)
	ctx := context.Background()

	h, err := svc.GetPriceHistory(ctx, "msft", models.Range1M)
	require.NoError(t, err)
	assert.Len(t, h.Bars, 2)
	assert.Equal(t, 1, client.aggCalls)
	assert.Equal(t, "MSFT", client.lastAgg.ticker)
	assert.Equal(t, models.TimespanDay, client.lastAgg.timespan)
	assert.Equal(t, testNow.AddDate(0, 0, -30), client.lastAgg.from)

	cached, err := cache.Get(ctx, "MSFT", models.Range1M)
	require.NoError(t, err)
	assert.Len(t, cached.Bars, 2)

	// Fresh cache: no second fetch.
	svc.now = func() time.Time { return testNow.Add(23 * time.Hour) }
	_, err = svc.GetPriceHistory(ctx, "MSFT", models.Range1M)
	require.NoError(t, err)
	assert.Equal(t, 1, client.aggCalls)

	// Stale cache: refetch and merge.
	svc.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	client.bars = []models.PriceBar{bar(3, "12.5"), bar(4, "13")}
	h, err = svc.GetPriceHistory(ctx, "MSFT", models.Range1M)
	require.NoError(t, err)
	assert.Equal(t, 2, client.aggCalls)
	require.Len(t, h.Bars, 3)
	assert.True(t, decimal.RequireFromString("12.5").Equal(h.Bars[1].Close))

	stats := h.Stats()
	assert.True(t, decimal.NewFromInt(3).Equal(stats.PriceChange))
	assert.True(t, decimal.NewFromInt(30).Equal(stats.PercentChange))
}

func TestGetPriceHistory_StaleCacheOnFetchError(t *testing.T) {
	client := &mockMarketData{bars: []models.PriceBar{bar(3, "12")}}
	svc, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.GetPriceHistory(ctx, "AAPL", models.Range5D)
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	client.aggErr = fmt.Errorf("%w: 503", models.ErrNetwork)
	h, err := svc.GetPriceHistory(ctx, "AAPL", models.Range5D)
	require.NoError(t, err)
	assert.Len(t, h.Bars, 1)
	assert.Equal(t, 2, client.aggCalls)
}

func TestGetPriceHistory_FetchErrorWithoutCache(t *testing.T) {
	client := &mockMarketData{aggErr: fmt.Errorf("%w: 503", models.ErrNetwork)}
	svc, _ := newTestService(t, client)

	_, err := svc.GetPriceHistory(context.Background(), "AAPL", models.Range1Y)
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestGetPriceHistory_WindowFiltersOlderCachedBars(t *testing.T) {
	client := &mockMarketData{bars: []models.PriceBar{bar(3, "10"), bar(4, "11")}}
	svc, _ := newTestService(t, client)

	h, err := svc.GetPriceHistory(context.Background(), "AAPL", models.ChartRange("today"))
	require.NoError(t, err)
	assert.Equal(t, models.Range1D, h.Range)
	require.Len(t, h.Bars, 1, "1D keeps only today's bars")
	assert.Equal(t, 4, h.Bars[0].Timestamp.Day())
	assert.Equal(t, 5, client.lastAgg.multiplier)
	assert.Equal(t, models.TimespanMinute, client.lastAgg.timespan)
}

func TestGetPriceHistory_InvalidRange(t *testing.T) {
	svc, _ := newTestService(t, &mockMarketData{})
	_, err := svc.GetPriceHistory(context.Background(), "AAPL", models.ChartRange("3W"))
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestGetPriceHistory_NoCache(t *testing.T) {
	client := &mockMarketData{bars: []models.PriceBar{bar(3, "10")}}
	svc := NewService(client, nil, common.NewSilentLogger())
	svc.now = func() time.Time { return testNow }

	for i := 0; i < 2; i++ {
		_, err := svc.GetPriceHistory(context.Background(), "AAPL", models.Range1M)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, client.aggCalls)
}
