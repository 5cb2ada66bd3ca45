package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string][]domain.Candle // keyed by asset, kept ascending
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string][]domain.Candle),
	}
}

// InsertBulk adds candles. Fails entire batch on duplicate (asset, timestamp).
func (s *CandleStore) InsertBulk(_ context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		asset string
		ts    int64
	}

	// First pass: check duplicates (existing + intra-batch)
	seen := make(map[key]struct{}, len(candles))
	for _, c := range candles {
		// Unix 0 is a legal candle open; only negative timestamps are malformed.
		if c.Asset == "" || c.Timestamp < 0 {
			return storage.ErrInvalidInput
		}
		k := key{c.Asset, c.Timestamp}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		for _, existing := range s.data[c.Asset] {
			if existing.Timestamp == c.Timestamp {
				return storage.ErrDuplicateKey
			}
		}
	}

	// Second pass: insert and restore ascending order
	touched := make(map[string]struct{})
	for _, c := range candles {
		s.data[c.Asset] = append(s.data[c.Asset], c)
		touched[c.Asset] = struct{}{}
	}
	for asset := range touched {
		series := s.data[asset]
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp < series[j].Timestamp
		})
	}

	return nil
}

// GetByAsset retrieves all candles for an asset, ordered by timestamp ASC.
func (s *CandleStore) GetByAsset(_ context.Context, asset string) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[asset]
	result := make([]domain.Candle, len(series))
	copy(result, series)
	return result, nil
}

// GetByTimeRange retrieves candles for an asset within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(_ context.Context, asset string, start, end int64) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for _, c := range s.data[asset] {
		if c.Timestamp >= start && c.Timestamp <= end {
			result = append(result, c)
		}
	}
	return result, nil
}

// Mutate rewrites stored candles through fn. Test helper: causality
// tests use it to tamper with future candles and prove earlier queries
// are unaffected. Not part of the CandleStore port.
func (s *CandleStore) Mutate(asset string, fn func(c domain.Candle) domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.data[asset]
	for i := range series {
		series[i] = fn(series[i])
	}
}

var _ storage.CandleStore = (*CandleStore)(nil)
