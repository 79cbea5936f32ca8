package indicator

import (
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// MFI is the money flow index over typical price times volume.
//
// Params: period (default 14). Output: mfi{period}, in percent.
type MFI struct{}

func (MFI) Kind() types.IndicatorKind {
	return types.IndicatorKindMFI
}

func (m MFI) Calculate(frame []types.Bar, inst types.IndicatorInstance, _ types.Symbol) (map[string]decimal.Decimal, error) {
	period, err := inst.IntParam("period", 14)
	if err != nil {
		return nil, err
	}

	if err := requireBars(frame, period+1, m.Kind()); err != nil {
		return nil, err
	}

	window := frame[len(frame)-period-1:]
	positive, negative := decimal.Zero, decimal.Zero

	prevTypical := typicalPrice(window[0])
	for _, bar := range window[1:] {
		typical := typicalPrice(bar)
		flow := typical.Mul(bar.Volume)

		switch typical.Cmp(prevTypical) {
		case 1:
			positive = positive.Add(flow)
		case -1:
			negative = negative.Add(flow)
		}

		prevTypical = typical
	}

	return rounded(output{periodName(m.Kind(), period), ratioIndex(positive, negative), types.PercentPlaces}), nil
}

func typicalPrice(bar types.Bar) decimal.Decimal {
	return bar.High.Add(bar.Low).Add(bar.Close).Div(decimal.NewFromInt(3))
}
