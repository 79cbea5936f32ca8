package ingestion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/types"
)

type missingKey struct {
	symbol   string
	openTime time.Time
}

// memoryStore is an in-memory Store and SweepStore.
type memoryStore struct {
	mu      sync.Mutex
	symbols []types.Symbol
	bars    map[types.Timeframe]map[string]map[time.Time]types.Bar
	missing map[missingKey]*types.MissingBar
	upserts int
}

func newMemoryStore(symbols ...types.Symbol) *memoryStore {
	return &memoryStore{
		symbols: symbols,
		bars:    make(map[types.Timeframe]map[string]map[time.Time]types.Bar),
		missing: make(map[missingKey]*types.MissingBar),
	}
}

func (m *memoryStore) ListSymbols(_ context.Context, enabledOnly bool) ([]types.Symbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Symbol

	for _, s := range m.symbols {
		if !enabledOnly || s.Enabled() {
			out = append(out, s)
		}
	}

	return out, nil
}

func (m *memoryStore) put(bar types.Bar) {
	byTf, ok := m.bars[bar.Timeframe]
	if !ok {
		byTf = make(map[string]map[time.Time]types.Bar)
		m.bars[bar.Timeframe] = byTf
	}

	bySymbol, ok := byTf[bar.Symbol]
	if !ok {
		bySymbol = make(map[time.Time]types.Bar)
		byTf[bar.Symbol] = bySymbol
	}

	bySymbol[bar.OpenTime.UTC()] = bar
}

func (m *memoryStore) UpsertBar(_ context.Context, bar types.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	m.put(bar)

	return nil
}

func (m *memoryStore) UpsertBars(_ context.Context, tf types.Timeframe, bars []types.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range bars {
		b.Timeframe = tf
		m.upserts++
		m.put(b)
	}

	return nil
}

func (m *memoryStore) delete(symbol string, tf types.Timeframe, openTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.bars[tf][symbol], openTime.UTC())
}

func (m *memoryStore) bar(symbol string, tf types.Timeframe, openTime time.Time) (types.Bar, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bars[tf][symbol][openTime.UTC()]

	return b, ok
}

func (m *memoryStore) BarExists(_ context.Context, symbol string, tf types.Timeframe, openTime time.Time) (bool, error) {
	_, ok := m.bar(symbol, tf, openTime)

	return ok, nil
}

func (m *memoryStore) GetBars(_ context.Context, symbol string, tf types.Timeframe, from, to time.Time) ([]types.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Bar

	for t, b := range m.bars[tf][symbol] {
		if !t.Before(from) && !t.After(to) {
			out = append(out, b)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })

	return out, nil
}

func (m *memoryStore) ExistingOpenTimes(ctx context.Context, symbol string, tf types.Timeframe, from, to time.Time) ([]time.Time, error) {
	bars, _ := m.GetBars(ctx, symbol, tf, from, to)

	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.OpenTime
	}

	return out, nil
}

func (m *memoryStore) ReplaceBars(_ context.Context, symbol string, tf types.Timeframe, from, to time.Time, replacement []types.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for t := range m.bars[tf][symbol] {
		if !t.Before(from) && !t.After(to) {
			delete(m.bars[tf][symbol], t)
		}
	}

	for _, b := range replacement {
		b.Timeframe = tf
		m.put(b)
	}

	return nil
}

func (m *memoryStore) BarSymbols(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for symbol := range m.bars[types.TimeframeM1] {
		out = append(out, symbol)
	}

	sort.Strings(out)

	return out, nil
}

func (m *memoryStore) RecordMissing(_ context.Context, symbol string, openTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := missingKey{symbol, openTime.UTC()}
	if _, ok := m.missing[key]; ok {
		return false, nil
	}

	m.missing[key] = &types.MissingBar{Symbol: symbol, OpenTime: openTime.UTC()}

	return true, nil
}

func (m *memoryStore) ListUnfixedMissing(_ context.Context, limit int) ([]types.MissingBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.MissingBar

	for _, row := range m.missing {
		if !row.Fixed {
			out = append(out, *row)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (m *memoryStore) MarkMissingFixed(_ context.Context, symbol string, openTime, fixedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row, ok := m.missing[missingKey{symbol, openTime.UTC()}]; ok {
		row.Fixed = true
		row.FixedAt = &fixedAt
	}

	return nil
}

func (m *memoryStore) missingRow(symbol string, openTime time.Time) (types.MissingBar, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.missing[missingKey{symbol, openTime.UTC()}]
	if !ok {
		return types.MissingBar{}, false
	}

	return *row, true
}
