package indicator

import (
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

// MACD is the difference of a fast and a slow EMA of closes, with an EMA
// signal line.
//
// Params: fast (default 12), slow (default 26), signal (default 9).
// Outputs: macd, macd_signal, macd_hist.
type MACD struct{}

func (MACD) Kind() types.IndicatorKind {
	return types.IndicatorKindMACD
}

func (m MACD) Calculate(frame []types.Bar, inst types.IndicatorInstance, sym types.Symbol) (map[string]decimal.Decimal, error) {
	fast, err := inst.IntParam("fast", 12)
	if err != nil {
		return nil, err
	}

	slow, err := inst.IntParam("slow", 26)
	if err != nil {
		return nil, err
	}

	signal, err := inst.IntParam("signal", 9)
	if err != nil {
		return nil, err
	}

	if fast >= slow {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "indicator %d: fast period %d must be below slow period %d", inst.ID, fast, slow)
	}

	if err := requireBars(frame, slow+signal-1, m.Kind()); err != nil {
		return nil, err
	}

	values := closes(frame)
	fastSeries := emaSeries(values, fast)
	slowSeries := emaSeries(values, slow)

	// align both series on the slow EMA's first value
	offset := slow - fast
	line := make([]decimal.Decimal, len(slowSeries))

	for i := range slowSeries {
		line[i] = fastSeries[i+offset].Sub(slowSeries[i])
	}

	signalSeries := emaSeries(line, signal)
	last := line[len(line)-1]
	lastSignal := signalSeries[len(signalSeries)-1]

	return rounded(
		output{"macd", last, sym.PrecisionPrice},
		output{"macd_signal", lastSignal, sym.PrecisionPrice},
		output{"macd_hist", last.Sub(lastSignal), sym.PrecisionPrice},
	), nil
}
