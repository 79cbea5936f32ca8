package indicator

import (
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// ATR is Wilder's average true range.
//
// Params: period (default 14). Output: atr{period}.
type ATR struct{}

func (ATR) Kind() types.IndicatorKind {
	return types.IndicatorKindATR
}

func (a ATR) Calculate(frame []types.Bar, inst types.IndicatorInstance, sym types.Symbol) (map[string]decimal.Decimal, error) {
	period, err := inst.IntParam("period", 14)
	if err != nil {
		return nil, err
	}

	if err := requireBars(frame, period+1, a.Kind()); err != nil {
		return nil, err
	}

	ranges := trueRanges(frame)
	value := wilder(ranges, period)

	return rounded(output{periodName(a.Kind(), period), value, sym.PrecisionPrice}), nil
}

// trueRanges returns the true range of every bar after the first.
func trueRanges(frame []types.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(frame)-1)

	for i := 1; i < len(frame); i++ {
		prevClose := frame[i-1].Close
		bar := frame[i]

		tr := decimal.Max(
			bar.High.Sub(bar.Low),
			bar.High.Sub(prevClose).Abs(),
			bar.Low.Sub(prevClose).Abs(),
		)
		out = append(out, tr)
	}

	return out
}

// wilder seeds with the mean of the first period values and then smooths
// with (prev*(period-1) + v) / period.
func wilder(values []decimal.Decimal, period int) decimal.Decimal {
	p := decimal.NewFromInt(int64(period))
	pm1 := decimal.NewFromInt(int64(period - 1))

	avg := mean(values[:period])
	for _, v := range values[period:] {
		avg = avg.Mul(pm1).Add(v).Div(p)
	}

	return avg
}
