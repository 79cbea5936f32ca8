package strategy

import (
	"context"
	"sort"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

// Indicators reads the latest market state an evaluator works on.
type Indicators interface {
	// Get returns the latest value of one indicator output, e.g.
	// Get(ctx, "BTCUSDT", m5, ema, "ema50"). A missing key is IndicatorMissing.
	Get(ctx context.Context, symbol string, tf types.Timeframe, kind types.IndicatorKind, param string) (decimal.Decimal, error)
	// Price returns the latest mark price. A missing key is PriceUnavailable.
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	// Median returns the median of the last n persisted values of an output.
	Median(ctx context.Context, symbol string, tf types.Timeframe, kind types.IndicatorKind, param string, n int) (decimal.Decimal, error)
}

// HistoryStore reads persisted indicator values.
type HistoryStore interface {
	FindIndicatorInstance(ctx context.Context, kind types.IndicatorKind, tf types.Timeframe) (types.IndicatorInstance, bool, error)
	LastIndicatorValues(ctx context.Context, instanceID int64, symbol, param string, limit int) ([]decimal.Decimal, error)
}

// ScratchpadIndicators serves Get and Price from the scratchpad and Median
// from the history table.
type ScratchpadIndicators struct {
	pad     bus.Scratchpad
	history HistoryStore
}

func NewScratchpadIndicators(pad bus.Scratchpad, history HistoryStore) *ScratchpadIndicators {
	return &ScratchpadIndicators{pad: pad, history: history}
}

func (s *ScratchpadIndicators) Get(ctx context.Context, symbol string, tf types.Timeframe, kind types.IndicatorKind, param string) (decimal.Decimal, error) {
	key := types.IndicatorKey(symbol, tf, kind, param)

	return s.read(ctx, key, errors.ErrCodeIndicatorMissing)
}

func (s *ScratchpadIndicators) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.read(ctx, types.PriceKey(symbol), errors.ErrCodePriceUnavailable)
}

func (s *ScratchpadIndicators) read(ctx context.Context, key string, missing errors.ErrorCode) (decimal.Decimal, error) {
	raw, ok, err := s.pad.GetKey(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}

	if !ok {
		return decimal.Zero, errors.Newf(missing, "%s is not set", key)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(missing, err, "%s holds %q", key, raw)
	}

	return v, nil
}

func (s *ScratchpadIndicators) Median(ctx context.Context, symbol string, tf types.Timeframe, kind types.IndicatorKind, param string, n int) (decimal.Decimal, error) {
	inst, found, err := s.history.FindIndicatorInstance(ctx, kind, tf)
	if err != nil {
		return decimal.Zero, err
	}

	if !found {
		return decimal.Zero, errors.Newf(errors.ErrCodeIndicatorMissing, "no %s instance on %s", kind, tf)
	}

	values, err := s.history.LastIndicatorValues(ctx, inst.ID, symbol, param, n)
	if err != nil {
		return decimal.Zero, err
	}

	if len(values) == 0 {
		return decimal.Zero, errors.Newf(errors.ErrCodeIndicatorMissing, "no %s history for %s on %s", param, symbol, tf)
	}

	return Median(values), nil
}

// Median of values. values must not be empty.
func Median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
