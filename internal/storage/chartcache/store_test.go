package chartcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/models"
)

func newTestStore(t *testing.T, maxEntries, evictBatch int) *Store {
	t.Helper()
	store, err := NewStore(common.NewSilentLogger(), common.ChartConfig{
		Path:       t.TempDir(),
		MaxEntries: maxEntries,
		EvictBatch: evictBatch,
	})
	require.NoError(t, err)
	return store
}

func bars(start time.Time, n int) []models.PriceBar {
	out := make([]models.PriceBar, n)
	for i := range out {
		out[i] = models.PriceBar{Timestamp: start.Add(time.Duration(i) * time.Hour), Close: decimal.NewFromInt(int64(100 + i))}
	}
	return out
}

func TestGet_Miss(t *testing.T) {
	store := newTestStore(t, 0, 0)
	_, err := store.Get(context.Background(), "AAPL", models.Range1M)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t, 0, 0)
	ctx := context.Background()
	start := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)

	_, err := store.Save(ctx, &models.PriceHistory{Ticker: "AAPL", Range: models.Range5D, Bars: bars(start, 3)})
	require.NoError(t, err)

	got, err := store.Get(ctx, "AAPL", models.Range5D)
	require.NoError(t, err)
	assert.Len(t, got.Bars, 3)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = os.Stat(filepath.Join(store.dir, "AAPL_5D.json"))
	assert.NoError(t, err)

	_, err = store.Get(ctx, "AAPL", models.Range1Y)
	assert.ErrorIs(t, err, models.ErrNotFound, "ranges are cached independently")
}

func TestSave_MergesByTimestamp(t *testing.T) {
	store := newTestStore(t, 0, 0)
	ctx := context.Background()
	start := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)

	_, err := store.Save(ctx, &models.PriceHistory{Ticker: "MSFT", Range: models.Range1D, Bars: bars(start, 4)})
	require.NoError(t, err)

	// overlaps the last two bars and adds two new ones
	got, err := store.Save(ctx, &models.PriceHistory{Ticker: "MSFT", Range: models.Range1D, Bars: bars(start.Add(2*time.Hour), 4)})
	require.NoError(t, err)
	assert.Len(t, got.Bars, 6)
	for i := 1; i < len(got.Bars); i++ {
		assert.True(t, got.Bars[i-1].Timestamp.Before(got.Bars[i].Timestamp))
	}
}

func TestSave_EvictsOldestInBatches(t *testing.T) {
	store := newTestStore(t, 100, 5)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := store.Save(ctx, &models.PriceHistory{Ticker: "TSLA", Range: models.Range5Y, Bars: bars(start, 100)})
	require.NoError(t, err)
	assert.Len(t, got.Bars, 100, "at the cap nothing is evicted")

	got, err = store.Save(ctx, &models.PriceHistory{Ticker: "TSLA", Range: models.Range5Y, Bars: bars(start.Add(100*time.Hour), 1)})
	require.NoError(t, err)
	assert.Len(t, got.Bars, 96, "one over the cap evicts a batch of five")
	assert.Equal(t, start.Add(5*time.Hour), got.Bars[0].Timestamp)

	got, err = store.Save(ctx, &models.PriceHistory{Ticker: "TSLA", Range: models.Range5Y, Bars: bars(start.Add(200*time.Hour), 12)})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got.Bars), 100)
	assert.Len(t, got.Bars, 98)
}

func TestGet_CorruptFileIsMiss(t *testing.T) {
	store := newTestStore(t, 0, 0)
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "AAPL_1M.json"), []byte("{not json"), 0644))

	_, err := store.Get(context.Background(), "AAPL", models.Range1M)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteAndPurge(t *testing.T) {
	store := newTestStore(t, 0, 0)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)

	for _, ticker := range []string{"AAPL", "GOOGL", "AMZN"} {
		_, err := store.Save(ctx, &models.PriceHistory{Ticker: ticker, Range: models.Range1M, Bars: bars(start, 1)})
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, "AAPL", models.Range1M))
	require.NoError(t, store.Delete(ctx, "AAPL", models.Range1M))

	n, err := store.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFileName_Sanitized(t *testing.T) {
	assert.Equal(t, "BRK.B_1Y.json", fileName("brk.b", models.Range1Y))
	assert.Equal(t, "__ETC_PASSWD_1M.json", fileName("../etc/passwd", models.Range1M))
}
