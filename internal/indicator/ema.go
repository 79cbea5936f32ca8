package indicator

import (
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// EMA is the exponential moving average of closes, seeded with the simple
// average of the first period values.
//
// Params: period (default 20). Output: ema{period}.
type EMA struct{}

func (EMA) Kind() types.IndicatorKind {
	return types.IndicatorKindEMA
}

func (e EMA) Calculate(frame []types.Bar, inst types.IndicatorInstance, sym types.Symbol) (map[string]decimal.Decimal, error) {
	period, err := inst.IntParam("period", 20)
	if err != nil {
		return nil, err
	}

	if err := requireBars(frame, period, e.Kind()); err != nil {
		return nil, err
	}

	series := emaSeries(closes(frame), period)

	return rounded(output{periodName(e.Kind(), period), series[len(series)-1], sym.PrecisionPrice}), nil
}

// emaSeries returns the EMA of values from index period-1 on, so the result
// has len(values)-period+1 entries. len(values) must be at least period.
func emaSeries(values []decimal.Decimal, period int) []decimal.Decimal {
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))

	out := make([]decimal.Decimal, 0, len(values)-period+1)
	prev := mean(values[:period])
	out = append(out, prev)

	for _, v := range values[period:] {
		prev = v.Sub(prev).Mul(alpha).Add(prev)
		out = append(out, prev)
	}

	return out
}
