// Package indicator computes technical indicators on bar close.
//
// Every indicator kind is a Calculator registered by kind. The Engine
// listens for bar-ready events, runs the calculators of every enabled
// instance on the timeframe and publishes the latest values to the
// scratchpad, the history table and, when asked, indicators_ready_stream.
package indicator

import (
	"fmt"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

// Calculator computes one indicator kind.
type Calculator interface {
	// Kind returns the indicator kind served by the calculator.
	Kind() types.IndicatorKind
	// Calculate returns the outputs at the last bar of frame, keyed by output
	// name. frame is ascending by open time. A frame too short for the
	// instance's parameters returns an InsufficientDataError.
	Calculate(frame []types.Bar, inst types.IndicatorInstance, sym types.Symbol) (map[string]decimal.Decimal, error)
}

// output is a named result with its rounding precision.
type output struct {
	name   string
	value  decimal.Decimal
	places int32
}

func rounded(outputs ...output) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(outputs))
	for _, o := range outputs {
		out[o.name] = types.RoundHalfUp(o.value, o.places)
	}

	return out
}

func requireBars(frame []types.Bar, required int, kind types.IndicatorKind) error {
	if len(frame) >= required {
		return nil
	}

	symbol := ""
	if len(frame) > 0 {
		symbol = frame[0].Symbol
	}

	return errors.NewInsufficientDataErrorf(required, len(frame), symbol,
		"%s needs %d bars, got %d", kind, required, len(frame))
}

func closes(frame []types.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(frame))
	for i, b := range frame {
		out[i] = b.Close
	}

	return out
}

func periodName(kind types.IndicatorKind, period int) string {
	return fmt.Sprintf("%s%d", kind, period)
}

// mean of values. values must not be empty.
func mean(values []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))
}
