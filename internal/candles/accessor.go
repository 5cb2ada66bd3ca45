// Package candles provides time-bounded, no-look-ahead read access to
// price history. A candle is visible at a decision time only once it
// has closed: candle.Timestamp + intervalSeconds <= decisionTime.
package candles

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// Accessor errors
var (
	ErrInvalidLookback = errors.New("lookback count must be positive")
	ErrInvalidInterval = errors.New("interval seconds must be positive")
)

// CausalAccessor is the causal data port. Implementations must never
// return, or let their return value be influenced by, a candle whose
// close time is strictly after the query's decision time.
type CausalAccessor interface {
	// GetCandlesAtTime returns at most lookbackCount most-recent closed
	// candles at decisionTime, ascending, no gaps synthesized.
	GetCandlesAtTime(ctx context.Context, asset string, decisionTime int64, lookbackCount int, intervalSeconds int64) ([]domain.Candle, error)

	// GetLastClosedCandle returns the single latest closed candle at
	// decisionTime, or nil if none exists yet.
	GetLastClosedCandle(ctx context.Context, asset string, decisionTime, intervalSeconds int64) (*domain.Candle, error)
}

// StoreAccessor implements CausalAccessor over a storage.CandleStore.
// Each run constructs its own accessor: the snapshot cache is owned by
// the accessor instance, so concurrent runs cannot cross-contaminate
// and no cache entry is keyed by decision time.
type StoreAccessor struct {
	store storage.CandleStore

	mu    sync.RWMutex
	cache map[string][]domain.Candle // full ascending series per asset
}

// NewStoreAccessor creates an accessor over a candle store.
func NewStoreAccessor(store storage.CandleStore) *StoreAccessor {
	return &StoreAccessor{
		store: store,
		cache: make(map[string][]domain.Candle),
	}
}

// GetCandlesAtTime returns at most lookbackCount most-recent closed
// candles, ascending. Safe for concurrent use across simulations.
func (a *StoreAccessor) GetCandlesAtTime(ctx context.Context, asset string, decisionTime int64, lookbackCount int, intervalSeconds int64) ([]domain.Candle, error) {
	if lookbackCount <= 0 {
		return nil, ErrInvalidLookback
	}
	if intervalSeconds <= 0 {
		return nil, ErrInvalidInterval
	}

	series, err := a.series(ctx, asset)
	if err != nil {
		return nil, err
	}

	last := lastClosedIndex(series, decisionTime, intervalSeconds)
	if last < 0 {
		return nil, nil
	}

	first := last + 1 - lookbackCount
	if first < 0 {
		first = 0
	}

	result := make([]domain.Candle, last+1-first)
	copy(result, series[first:last+1])

	// Causality assertion: unreachable in correct code.
	if tail := result[len(result)-1]; !tail.ClosedAt(decisionTime, intervalSeconds) {
		return nil, &domain.CausalityViolation{
			Asset:        asset,
			DecisionTime: decisionTime,
			CandleClose:  tail.CloseTime(intervalSeconds),
		}
	}

	return result, nil
}

// GetLastClosedCandle returns the latest closed candle or nil.
func (a *StoreAccessor) GetLastClosedCandle(ctx context.Context, asset string, decisionTime, intervalSeconds int64) (*domain.Candle, error) {
	if intervalSeconds <= 0 {
		return nil, ErrInvalidInterval
	}

	series, err := a.series(ctx, asset)
	if err != nil {
		return nil, err
	}

	last := lastClosedIndex(series, decisionTime, intervalSeconds)
	if last < 0 {
		return nil, nil
	}

	c := series[last]
	return &c, nil
}

// series returns the cached ascending series for an asset, fetching it
// from the store on first access.
func (a *StoreAccessor) series(ctx context.Context, asset string) ([]domain.Candle, error) {
	a.mu.RLock()
	cached, ok := a.cache[asset]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}

	fetched, err := a.store.GetByAsset(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", asset, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Another goroutine may have fetched concurrently; first write wins
	// so every decision time in this run sees the same snapshot.
	if cached, ok := a.cache[asset]; ok {
		return cached, nil
	}
	a.cache[asset] = fetched
	return fetched, nil
}

// lastClosedIndex returns the index of the latest candle closed at
// decisionTime, or -1. The series must be ascending by timestamp.
func lastClosedIndex(series []domain.Candle, decisionTime, intervalSeconds int64) int {
	return sort.Search(len(series), func(i int) bool {
		return series[i].CloseTime(intervalSeconds) > decisionTime
	}) - 1
}

var _ CausalAccessor = (*StoreAccessor)(nil)
