// Package storage provides the top-level StorageManager that coordinates
// the 2 storage areas: ledgerdb and chartcache.
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/interfaces"
	"github.com/kylekaufman/papertrade/internal/storage/chartcache"
	"github.com/kylekaufman/papertrade/internal/storage/ledgerdb"
)

// Manager implements interfaces.StorageManager.
type Manager struct {
	ledger *ledgerdb.Store
	charts *chartcache.Store
	logger *common.Logger
}

// NewManager opens the ledger database and the chart cache.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ledgerStore, err := ledgerdb.NewStore(logger, config.Storage.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger store: %w", err)
	}

	chartStore, err := chartcache.NewStore(logger, config.Storage.Charts)
	if err != nil {
		ledgerStore.Close()
		return nil, fmt.Errorf("failed to create chart cache: %w", err)
	}

	logger.Info().
		Str("ledger", config.Storage.Ledger.Path).
		Str("charts", config.Storage.Charts.Path).
		Msg("Storage manager initialized (2 areas)")

	return &Manager{
		ledger: ledgerStore,
		charts: chartStore,
		logger: logger,
	}, nil
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledger
}

func (m *Manager) KeyValueStore() interfaces.KeyValueStore {
	return m.ledger
}

func (m *Manager) ChartCache() interfaces.ChartCache {
	return m.charts
}

// DataPath returns the directory holding the chart cache.
func (m *Manager) DataPath() string {
	return filepath.Dir(m.charts.Dir())
}

func (m *Manager) PurgeCharts() (int, error) {
	count, err := m.charts.Purge()
	if err != nil {
		return 0, fmt.Errorf("failed to purge charts: %w", err)
	}
	m.logger.Info().Int("count", count).Msg("Chart cache purged")
	return count, nil
}

func (m *Manager) Close() error {
	return m.ledger.Close()
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
