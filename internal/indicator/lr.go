package indicator

import (
	"math"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// LR is a linear-regression channel fitted over the last period closes.
//
// Params: period (default 100), deviation (default 2).
// Outputs:
//   - lr_mid: the fitted value at the last bar
//   - lr_upper, lr_lower: lr_mid ± deviation standard errors
//   - lr_angle: slope in degrees, with the slope taken in percent of the mean
//     close per bar so the angle does not depend on the price scale
//   - lr_trend: 1, -1 or 0 following the slope sign
type LR struct{}

func (LR) Kind() types.IndicatorKind {
	return types.IndicatorKindLR
}

func (l LR) Calculate(frame []types.Bar, inst types.IndicatorInstance, sym types.Symbol) (map[string]decimal.Decimal, error) {
	period, err := inst.IntParam("period", 100)
	if err != nil {
		return nil, err
	}

	deviation, err := inst.DecimalParam("deviation", decimal.NewFromInt(2))
	if err != nil {
		return nil, err
	}

	required := period
	if required < 2 {
		required = 2
	}

	if err := requireBars(frame, required, l.Kind()); err != nil {
		return nil, err
	}

	ys := closes(frame[len(frame)-required:])
	slope, intercept := leastSquares(ys)

	n := decimal.NewFromInt(int64(len(ys)))
	mid := intercept.Add(slope.Mul(n.Sub(decimal.NewFromInt(1))))

	var sq decimal.Decimal
	for i, y := range ys {
		fitted := intercept.Add(slope.Mul(decimal.NewFromInt(int64(i))))
		residual := y.Sub(fitted)
		sq = sq.Add(residual.Mul(residual))
	}

	stddev := decimal.NewFromFloat(math.Sqrt(sq.Div(n).InexactFloat64()))
	band := stddev.Mul(deviation)

	angle := decimal.Zero
	if avg := mean(ys); !avg.IsZero() {
		pct := slope.Div(avg).Mul(hundred).InexactFloat64()
		angle = decimal.NewFromFloat(math.Atan(pct) * 180 / math.Pi)
	}

	return rounded(
		output{"lr_mid", mid, sym.PrecisionPrice},
		output{"lr_upper", mid.Add(band), sym.PrecisionPrice},
		output{"lr_lower", mid.Sub(band), sym.PrecisionPrice},
		output{"lr_angle", angle, types.AnglePlaces},
		output{"lr_trend", decimal.NewFromInt(int64(slope.Sign())), 0},
	), nil
}

// leastSquares fits y = intercept + slope*x for x = 0..len(ys)-1.
func leastSquares(ys []decimal.Decimal) (slope, intercept decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(ys)))

	var sumX, sumY, sumXY, sumXX decimal.Decimal
	for i, y := range ys {
		x := decimal.NewFromInt(int64(i))
		sumX = sumX.Add(x)
		sumY = sumY.Add(y)
		sumXY = sumXY.Add(x.Mul(y))
		sumXX = sumXX.Add(x.Mul(x))
	}

	denom := n.Mul(sumXX).Sub(sumX.Mul(sumX))
	if denom.IsZero() {
		return decimal.Zero, sumY.Div(n)
	}

	slope = n.Mul(sumXY).Sub(sumX.Mul(sumY)).Div(denom)
	intercept = sumY.Sub(slope.Mul(sumX)).Div(n)

	return slope, intercept
}
