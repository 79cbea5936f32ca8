package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

// Indicator outputs read by the built-in evaluators.
const (
	ATRParam   = "atr14"
	EMAParam   = "ema50"
	RSIParam   = "rsi14"
	MFIParam   = "mfi14"
	MedianSpan = 30
)

// DefaultEvaluator runs when a strategy names none.
const DefaultEvaluator = "passthrough"

// StopATRMultiple places the initial stop at entry ∓ 1.5·ATR.
var StopATRMultiple = decimal.RequireFromString("1.5")

// EvalContext is what an evaluator sees of one strategy task.
type EvalContext struct {
	Strategy   types.Strategy
	Symbol     types.Symbol
	Direction  types.Direction
	Price      decimal.Decimal
	Indicators Indicators
}

// Timeframe is the strategy's timeframe, m5 when unset.
func (c EvalContext) Timeframe() types.Timeframe {
	if c.Strategy.Timeframe.Valid() {
		return c.Strategy.Timeframe
	}

	return types.TimeframeM5
}

// Indicator reads one output on the strategy's timeframe.
func (c EvalContext) Indicator(ctx context.Context, kind types.IndicatorKind, param string) (decimal.Decimal, error) {
	return c.Indicators.Get(ctx, c.Symbol.Symbol, c.Timeframe(), kind, param)
}

// Entry is an admitted entry decision.
type Entry struct {
	ATR      decimal.Decimal
	StopLoss decimal.Decimal
}

// Evaluator holds the trading policy of a strategy. It returns a
// FilterRejected error with the failed check when the entry is refused.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, ec EvalContext) (Entry, error)
}

// Evaluators maps evaluator names to implementations.
type Evaluators struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

func NewEvaluators() *Evaluators {
	return &Evaluators{evaluators: make(map[string]Evaluator)}
}

// DefaultEvaluators holds every built-in evaluator.
func DefaultEvaluators() *Evaluators {
	e := NewEvaluators()

	for _, ev := range []Evaluator{Passthrough{}, EMAATRTrend{}, RSIMFIReversal{}, LRChannel{MinAngle: decimal.RequireFromString("0.1")}} {
		_ = e.Register(ev)
	}

	return e
}

func (e *Evaluators) Register(ev Evaluator) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.evaluators[ev.Name()]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "evaluator %s already registered", ev.Name())
	}

	e.evaluators[ev.Name()] = ev

	return nil
}

// Get returns the evaluator called name, or the default one for "".
func (e *Evaluators) Get(name string) (Evaluator, error) {
	if name == "" {
		name = DefaultEvaluator
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	ev, ok := e.evaluators[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeEvaluatorNotFound, "no evaluator %q", name)
	}

	return ev, nil
}

func (e *Evaluators) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.evaluators))
	for name := range e.evaluators {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// atrStop reads ATR and derives the initial stop from it.
func atrStop(ctx context.Context, ec EvalContext) (Entry, error) {
	atr, err := ec.Indicator(ctx, types.IndicatorKindATR, ATRParam)
	if err != nil {
		return Entry{}, err
	}

	if !atr.IsPositive() {
		return Entry{}, errors.Newf(errors.ErrCodeFilterRejected, "atr is %s", atr)
	}

	stop := ec.Price.Sub(ec.Direction.Sign().Mul(StopATRMultiple).Mul(atr))

	return Entry{ATR: atr, StopLoss: ec.Symbol.RoundPrice(stop)}, nil
}

func rejectf(format string, args ...any) error {
	return errors.Newf(errors.ErrCodeFilterRejected, format, args...)
}

// Passthrough admits every entry and only needs ATR.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) Evaluate(ctx context.Context, ec EvalContext) (Entry, error) {
	return atrStop(ctx, ec)
}

// EMAATRTrend trades with the trend: the price must clear EMA50 by half an
// ATR in the trade direction, and volatility must be above its 30-bar median.
type EMAATRTrend struct{}

func (EMAATRTrend) Name() string { return "ema_atr_trend" }

func (EMAATRTrend) Evaluate(ctx context.Context, ec EvalContext) (Entry, error) {
	entry, err := atrStop(ctx, ec)
	if err != nil {
		return Entry{}, err
	}

	ema, err := ec.Indicator(ctx, types.IndicatorKindEMA, EMAParam)
	if err != nil {
		return Entry{}, err
	}

	band := entry.ATR.Div(decimal.NewFromInt(2))

	switch ec.Direction {
	case types.DirectionLong:
		if ec.Price.LessThanOrEqual(ema.Add(band)) {
			return Entry{}, rejectf("price %s not above ema50 %s + 0.5 atr", ec.Price, ema)
		}
	case types.DirectionShort:
		if ec.Price.GreaterThanOrEqual(ema.Sub(band)) {
			return Entry{}, rejectf("price %s not below ema50 %s - 0.5 atr", ec.Price, ema)
		}
	}

	median, err := ec.Indicators.Median(ctx, ec.Symbol.Symbol, ec.Timeframe(), types.IndicatorKindATR, ATRParam, MedianSpan)
	if err != nil {
		return Entry{}, err
	}

	if entry.ATR.LessThanOrEqual(median) {
		return Entry{}, rejectf("atr %s not above its median %s", entry.ATR, median)
	}

	return entry, nil
}

// RSIMFIReversal fades exhaustion: longs need RSI14 ≤ 30 and MFI14 ≤ 20,
// shorts RSI14 ≥ 70 and MFI14 ≥ 80.
type RSIMFIReversal struct{}

func (RSIMFIReversal) Name() string { return "rsi_mfi_reversal" }

func (RSIMFIReversal) Evaluate(ctx context.Context, ec EvalContext) (Entry, error) {
	rsi, err := ec.Indicator(ctx, types.IndicatorKindRSI, RSIParam)
	if err != nil {
		return Entry{}, err
	}

	mfi, err := ec.Indicator(ctx, types.IndicatorKindMFI, MFIParam)
	if err != nil {
		return Entry{}, err
	}

	long := ec.Direction == types.DirectionLong

	switch {
	case long && rsi.GreaterThan(decimal.NewFromInt(30)):
		return Entry{}, rejectf("rsi14 %s above 30", rsi)
	case long && mfi.GreaterThan(decimal.NewFromInt(20)):
		return Entry{}, rejectf("mfi14 %s above 20", mfi)
	case !long && rsi.LessThan(decimal.NewFromInt(70)):
		return Entry{}, rejectf("rsi14 %s below 70", rsi)
	case !long && mfi.LessThan(decimal.NewFromInt(80)):
		return Entry{}, rejectf("mfi14 %s below 80", mfi)
	}

	return atrStop(ctx, ec)
}

// LRChannel follows the regression channel: the trend sign must match the
// direction and the angle must be at least MinAngle degrees.
type LRChannel struct {
	MinAngle decimal.Decimal
}

func (LRChannel) Name() string { return "lr_channel" }

func (l LRChannel) Evaluate(ctx context.Context, ec EvalContext) (Entry, error) {
	trend, err := ec.Indicator(ctx, types.IndicatorKindLR, "lr_trend")
	if err != nil {
		return Entry{}, err
	}

	if trend.Sign() != ec.Direction.Sign().Sign() {
		return Entry{}, rejectf("lr_trend %s against %s", trend, ec.Direction)
	}

	angle, err := ec.Indicator(ctx, types.IndicatorKindLR, "lr_angle")
	if err != nil {
		return Entry{}, err
	}

	if angle.Abs().LessThan(l.MinAngle) {
		return Entry{}, rejectf("lr_angle %s flatter than %s", angle, l.MinAngle)
	}

	return atrStop(ctx, ec)
}
