package strategy

import (
	"context"
	"sync"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu         sync.Mutex
	strategies map[int64]types.Strategy
	symbols    map[string]types.Symbol
	positions  []types.Position
	entries    []types.SignalLogEntry
	systemLogs []types.SystemLog
	createErr  error
}

func (m *memoryStore) GetStrategy(_ context.Context, id int64) (types.Strategy, error) {
	s, ok := m.strategies[id]
	if !ok {
		return types.Strategy{}, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %d not found", id)
	}

	return s, nil
}

func (m *memoryStore) GetSymbol(_ context.Context, symbol string) (types.Symbol, error) {
	s, ok := m.symbols[symbol]
	if !ok {
		return types.Symbol{}, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s not found", symbol)
	}

	return s, nil
}

func (m *memoryStore) HasOpenPosition(_ context.Context, strategyID int64, symbol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.positions {
		if p.StrategyID == strategyID && p.Symbol == symbol && p.IsOpen() {
			return true, nil
		}
	}

	return false, nil
}

func (m *memoryStore) OpenNotional(_ context.Context, strategyID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero

	for _, p := range m.positions {
		if p.StrategyID == strategyID && p.IsOpen() {
			total = total.Add(p.NotionalValue)
		}
	}

	return total, nil
}

func (m *memoryStore) CreatePosition(_ context.Context, pos *types.Position) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos.ID = int64(len(m.positions) + 1)
	for i := range pos.Targets {
		pos.Targets[i].ID = pos.ID*100 + int64(i)
		pos.Targets[i].PositionID = pos.ID
	}

	m.positions = append(m.positions, *pos.Clone())

	return nil
}

func (m *memoryStore) InsertSignalLogEntry(_ context.Context, entry types.SignalLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)

	return nil
}

func (m *memoryStore) InsertSystemLog(_ context.Context, entry types.SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systemLogs = append(m.systemLogs, entry)

	return nil
}

// staticIndicators serves fixed values keyed like the scratchpad.
type staticIndicators struct {
	values map[string]decimal.Decimal
	prices map[string]decimal.Decimal
	median decimal.Decimal
}

func (s *staticIndicators) Get(_ context.Context, symbol string, tf types.Timeframe, kind types.IndicatorKind, param string) (decimal.Decimal, error) {
	key := types.IndicatorKey(symbol, tf, kind, param)

	v, ok := s.values[key]
	if !ok {
		return decimal.Zero, errors.Newf(errors.ErrCodeIndicatorMissing, "%s is not set", key)
	}

	return v, nil
}

func (s *staticIndicators) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	v, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, errors.Newf(errors.ErrCodePriceUnavailable, "no price for %s", symbol)
	}

	return v, nil
}

func (s *staticIndicators) Median(context.Context, string, types.Timeframe, types.IndicatorKind, string, int) (decimal.Decimal, error) {
	return s.median, nil
}

func (s *staticIndicators) set(symbol string, tf types.Timeframe, kind types.IndicatorKind, param, value string) {
	s.values[types.IndicatorKey(symbol, tf, kind, param)] = decimal.RequireFromString(value)
}
