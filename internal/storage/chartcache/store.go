// Package chartcache implements the file-based price history cache.
// Each (ticker, range) pair is one JSON file holding at most MaxEntries bars.
package chartcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/models"
)

// Default bounds, used when the config leaves them unset.
const (
	DefaultMaxEntries = 100
	DefaultEvictBatch = 5
)

// Store is a file-backed interfaces.ChartCache.
type Store struct {
	dir        string
	maxEntries int
	evictBatch int
	logger     *common.Logger
	mu         sync.Mutex
}

var _ interfaces.ChartCache = (*Store)(nil)

// NewStore creates the cache directory if needed.
func NewStore(logger *common.Logger, config common.ChartConfig) (*Store, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chart cache path %s: %w", config.Path, err)
	}
	s := &Store{
		dir:        config.Path,
		maxEntries: config.MaxEntries,
		evictBatch: config.EvictBatch,
		logger:     logger,
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.evictBatch <= 0 {
		s.evictBatch = DefaultEvictBatch
	}
	logger.Info().Str("path", config.Path).Int("max_entries", s.maxEntries).Msg("Chart cache opened")
	return s, nil
}

// Get returns the cached history, or models.ErrNotFound when no usable file exists.
func (s *Store) Get(_ context.Context, ticker string, r models.ChartRange) (*models.PriceHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ticker, r)
}

// Save merges history.Bars into the cached file by timestamp, evicts the
// oldest bars in batches while over the cap, and returns what was written.
func (s *Store) Save(_ context.Context, history *models.PriceHistory) (*models.PriceHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := &models.PriceHistory{Ticker: history.Ticker, Range: history.Range}
	if existing, err := s.read(history.Ticker, history.Range); err == nil {
		merged.Bars = existing.Bars
	}
	merged.Bars = mergeBars(merged.Bars, history.Bars)

	evicted := 0
	for len(merged.Bars) > s.maxEntries {
		n := s.evictBatch
		if n > len(merged.Bars) {
			n = len(merged.Bars)
		}
		merged.Bars = merged.Bars[n:]
		evicted += n
	}
	if evicted > 0 {
		s.logger.Debug().Str("ticker", history.Ticker).Str("range", string(history.Range)).Int("evicted", evicted).Msg("Chart cache trimmed")
	}

	merged.UpdatedAt = history.UpdatedAt
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = time.Now()
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal price history: %w", err)
	}
	if err := s.writeAtomic(fileName(history.Ticker, history.Range), append(data, '\n')); err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete removes one cached file.
func (s *Store) Delete(_ context.Context, ticker string, r models.ChartRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, fileName(ticker, r)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cached history for %s: %w", ticker, err)
	}
	return nil
}

// Purge removes every cached file and returns the count.
func (s *Store) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read chart cache: %w", err)
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			count++
		}
	}
	return count, nil
}

func (s *Store) read(ticker string, r models.ChartRange) (*models.PriceHistory, error) {
	path := filepath.Join(s.dir, fileName(ticker, r))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("history %s/%s: %w", ticker, r, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var history models.PriceHistory
	if len(data) == 0 || json.Unmarshal(data, &history) != nil || len(history.Bars) == 0 {
		// Unreadable or empty files count as a miss and get rewritten on save.
		return nil, fmt.Errorf("history %s/%s: %w", ticker, r, models.ErrNotFound)
	}
	return &history, nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	tmpFile, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// mergeBars unions two series by timestamp, preferring incoming values, and
// returns them oldest first.
func mergeBars(existing, incoming []models.PriceBar) []models.PriceBar {
	byTime := make(map[int64]models.PriceBar, len(existing)+len(incoming))
	for _, b := range existing {
		byTime[b.Timestamp.UnixMilli()] = b
	}
	for _, b := range incoming {
		byTime[b.Timestamp.UnixMilli()] = b
	}
	out := make([]models.PriceBar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// fileName is "{TICKER}_{RANGE}.json" with path separators neutralised.
func fileName(ticker string, r models.ChartRange) string {
	key := fmt.Sprintf("%s_%s", strings.ToUpper(ticker), r)
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(key) + ".json"
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}
