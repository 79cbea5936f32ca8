package indicator

import (
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RSI is the relative strength index with Wilder smoothing.
//
// Params: period (default 14). Output: rsi{period}, in percent.
type RSI struct{}

func (RSI) Kind() types.IndicatorKind {
	return types.IndicatorKindRSI
}

func (r RSI) Calculate(frame []types.Bar, inst types.IndicatorInstance, _ types.Symbol) (map[string]decimal.Decimal, error) {
	period, err := inst.IntParam("period", 14)
	if err != nil {
		return nil, err
	}

	if err := requireBars(frame, period+1, r.Kind()); err != nil {
		return nil, err
	}

	gains := make([]decimal.Decimal, 0, len(frame)-1)
	losses := make([]decimal.Decimal, 0, len(frame)-1)

	for i := 1; i < len(frame); i++ {
		change := frame[i].Close.Sub(frame[i-1].Close)
		if change.IsPositive() {
			gains = append(gains, change)
			losses = append(losses, decimal.Zero)
		} else {
			gains = append(gains, decimal.Zero)
			losses = append(losses, change.Neg())
		}
	}

	avgGain := wilder(gains, period)
	avgLoss := wilder(losses, period)

	return rounded(output{periodName(r.Kind(), period), ratioIndex(avgGain, avgLoss), types.PercentPlaces}), nil
}

// ratioIndex returns 100 - 100/(1 + up/down). A zero down side is 100.
func ratioIndex(up, down decimal.Decimal) decimal.Decimal {
	if down.IsZero() {
		return hundred
	}

	rs := up.Div(down)

	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}
