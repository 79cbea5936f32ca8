package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

type memoryStore struct {
	mu         sync.Mutex
	symbols    map[string]types.Symbol
	signals    []types.Signal
	edges      []types.StrategySignal
	strategies []types.Strategy
	logs       []types.SignalLog
	dispatches map[int64][]int64
}

func (m *memoryStore) GetSymbol(_ context.Context, symbol string) (types.Symbol, error) {
	s, ok := m.symbols[symbol]
	if !ok {
		return types.Symbol{}, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s not found", symbol)
	}

	return s, nil
}

func (m *memoryStore) ListSignals(_ context.Context) ([]types.Signal, error) {
	return m.signals, nil
}

func (m *memoryStore) ListStrategySignals(_ context.Context) ([]types.StrategySignal, error) {
	return m.edges, nil
}

func (m *memoryStore) ListStrategies(_ context.Context) ([]types.Strategy, error) {
	return m.strategies, nil
}

func (m *memoryStore) InsertSignalLog(_ context.Context, log types.SignalLog) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.logs {
		if l.UID == log.UID {
			return 0, false, nil
		}
	}

	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)

	return log.ID, true, nil
}

func (m *memoryStore) SignalLogByUID(_ context.Context, uid string) (types.SignalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.logs {
		if l.UID == uid {
			return l, nil
		}
	}

	return types.SignalLog{}, errors.Newf(errors.ErrCodeDataNotFound, "no signal log %s", uid)
}

func (m *memoryStore) UpdateSignalLogStatus(_ context.Context, id int64, status types.SignalLogStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.logs {
		if m.logs[i].ID == id {
			m.logs[i].Status = status
		}
	}

	return nil
}

func (m *memoryStore) RecordDispatch(_ context.Context, logID, strategyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatches == nil {
		m.dispatches = make(map[int64][]int64)
	}

	for _, id := range m.dispatches[logID] {
		if id == strategyID {
			return nil
		}
	}

	m.dispatches[logID] = append(m.dispatches[logID], strategyID)

	return nil
}

func (m *memoryStore) ListDispatches(_ context.Context, logID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]int64(nil), m.dispatches[logID]...), nil
}

// fieldStream records flat appends as stream messages.
type fieldStream struct {
	mu      sync.Mutex
	entries []bus.StreamMessage
	err     error
}

func (f *fieldStream) AppendFields(_ context.Context, stream string, fields map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values := make(map[string]string, len(fields))
	for k, v := range fields {
		values[k], _ = v.(string)
	}

	id := fmt.Sprintf("%d-0", len(f.entries)+1)
	f.entries = append(f.entries, bus.StreamMessage{Stream: stream, ID: id, Values: values})

	return id, nil
}
