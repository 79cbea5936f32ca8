package indicator

import (
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// SMI is the stochastic momentum index: the close relative to the midpoint
// of the k-bar range, double smoothed, as a percentage of half the range.
//
// Params: k (default 10), d (default 3), signal (default 3).
// Outputs: smi, smi_signal, in percent.
type SMI struct{}

func (SMI) Kind() types.IndicatorKind {
	return types.IndicatorKindSMI
}

func (s SMI) Calculate(frame []types.Bar, inst types.IndicatorInstance, _ types.Symbol) (map[string]decimal.Decimal, error) {
	k, err := inst.IntParam("k", 10)
	if err != nil {
		return nil, err
	}

	d, err := inst.IntParam("d", 3)
	if err != nil {
		return nil, err
	}

	signal, err := inst.IntParam("signal", 3)
	if err != nil {
		return nil, err
	}

	if err := requireBars(frame, k+2*(d-1)+signal-1, s.Kind()); err != nil {
		return nil, err
	}

	two := decimal.NewFromInt(2)
	rel := make([]decimal.Decimal, 0, len(frame)-k+1)
	rng := make([]decimal.Decimal, 0, len(frame)-k+1)

	for i := k - 1; i < len(frame); i++ {
		window := frame[i-k+1 : i+1]
		hh, ll := window[0].High, window[0].Low

		for _, b := range window[1:] {
			hh = decimal.Max(hh, b.High)
			ll = decimal.Min(ll, b.Low)
		}

		rel = append(rel, frame[i].Close.Sub(hh.Add(ll).Div(two)))
		rng = append(rng, hh.Sub(ll))
	}

	smoothRel := emaSeries(emaSeries(rel, d), d)
	smoothRng := emaSeries(emaSeries(rng, d), d)

	smi := make([]decimal.Decimal, len(smoothRel))
	for i := range smoothRel {
		half := smoothRng[i].Div(two)
		if half.IsZero() {
			continue
		}

		smi[i] = hundred.Mul(smoothRel[i]).Div(half)
	}

	signalSeries := emaSeries(smi, signal)

	return rounded(
		output{"smi", smi[len(smi)-1], types.PercentPlaces},
		output{"smi_signal", signalSeries[len(signalSeries)-1], types.PercentPlaces},
	), nil
}
