package indicator

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/mocks"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type CalculatorTestSuite struct {
	suite.Suite
	sym types.Symbol
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorTestSuite))
}

func (suite *CalculatorTestSuite) SetupTest() {
	suite.sym = types.Symbol{Symbol: "BTCUSDT", PrecisionPrice: 2, PrecisionQty: 3}
}

func instance(kind types.IndicatorKind, params map[string]string) types.IndicatorInstance {
	return types.IndicatorInstance{ID: 1, Kind: kind, Timeframe: types.TimeframeM5, Enabled: true, Params: params}
}

// ohlc builds bars from (high, low, close) triples with unit volume.
func ohlc(rows ...[3]string) []types.Bar {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]types.Bar, len(rows))

	for i, r := range rows {
		out[i] = types.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: types.TimeframeM5,
			OpenTime:  start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      types.MustDecimal(r[2]),
			High:      types.MustDecimal(r[0]),
			Low:       types.MustDecimal(r[1]),
			Close:     types.MustDecimal(r[2]),
			Volume:    decimal.NewFromInt(1),
		}
	}

	return out
}

// flat builds bars whose high, low and close all equal the given closes.
func flat(values ...string) []types.Bar {
	rows := make([][3]string, len(values))
	for i, v := range values {
		rows[i] = [3]string{v, v, v}
	}

	return ohlc(rows...)
}

func (suite *CalculatorTestSuite) requireValue(want string, got map[string]decimal.Decimal, name string) {
	v, ok := got[name]
	suite.Require().True(ok, "missing output %s in %v", name, got)
	suite.True(types.MustDecimal(want).Equal(v), "%s: want %s, got %s", name, want, v)
}

func (suite *CalculatorTestSuite) TestEMA() {
	got, err := EMA{}.Calculate(flat("1", "2", "3", "4", "5"), instance(types.IndicatorKindEMA, map[string]string{"period": "3"}), suite.sym)
	suite.Require().NoError(err)
	suite.requireValue("4", got, "ema3")
}

func (suite *CalculatorTestSuite) TestATR() {
	frame := ohlc(
		[3]string{"11", "9", "10"},
		[3]string{"13", "11", "12"},
		[3]string{"12", "10", "11"},
		[3]string{"12", "10", "11"},
		[3]string{"16", "12", "15"},
	)

	got, err := ATR{}.Calculate(frame, instance(types.IndicatorKindATR, map[string]string{"period": "3"}), suite.sym)
	suite.Require().NoError(err)
	// seed (3+2+2)/3, then (7/3*2 + 5)/3 = 29/9
	suite.requireValue("3.22", got, "atr3")
}

func (suite *CalculatorTestSuite) TestRSI() {
	tests := []struct {
		name   string
		closes []string
		want   string
	}{
		{name: "mixed", closes: []string{"10", "11", "10", "12"}, want: "83.33"},
		{name: "only gains", closes: []string{"10", "11", "12", "13"}, want: "100"},
		{name: "only losses", closes: []string{"13", "12", "11", "10"}, want: "0"},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			got, err := RSI{}.Calculate(flat(tc.closes...), instance(types.IndicatorKindRSI, map[string]string{"period": "2"}), suite.sym)
			suite.Require().NoError(err)
			suite.requireValue(tc.want, got, "rsi2")
		})
	}
}

func (suite *CalculatorTestSuite) TestMFI() {
	got, err := MFI{}.Calculate(flat("9", "10", "11", "10"), instance(types.IndicatorKindMFI, map[string]string{"period": "2"}), suite.sym)
	suite.Require().NoError(err)
	// positive flow 11, negative flow 10
	suite.requireValue("52.38", got, "mfi2")
}

func (suite *CalculatorTestSuite) TestLRRisingLine() {
	got, err := LR{}.Calculate(flat("1", "2", "3", "4", "5"), instance(types.IndicatorKindLR, map[string]string{"period": "5"}), suite.sym)
	suite.Require().NoError(err)

	suite.requireValue("5", got, "lr_mid")
	suite.requireValue("5", got, "lr_upper")
	suite.requireValue("5", got, "lr_lower")
	suite.requireValue("1", got, "lr_trend")
	// slope is a third of the mean close per bar
	suite.InDelta(88.28164, got["lr_angle"].InexactFloat64(), 0.0001)
}

func (suite *CalculatorTestSuite) TestLRFlatAndFalling() {
	inst := instance(types.IndicatorKindLR, map[string]string{"period": "4", "deviation": "1"})

	got, err := LR{}.Calculate(flat("7", "7", "7", "7"), inst, suite.sym)
	suite.Require().NoError(err)
	suite.requireValue("0", got, "lr_trend")
	suite.requireValue("0", got, "lr_angle")

	got, err = LR{}.Calculate(flat("8", "6", "7", "5"), inst, suite.sym)
	suite.Require().NoError(err)
	suite.requireValue("-1", got, "lr_trend")
	suite.True(got["lr_angle"].IsNegative())
	suite.True(got["lr_upper"].GreaterThan(got["lr_mid"]))
	suite.True(got["lr_lower"].LessThan(got["lr_mid"]))
}

func (suite *CalculatorTestSuite) TestMACD() {
	inst := instance(types.IndicatorKindMACD, map[string]string{"fast": "2", "slow": "3", "signal": "2"})

	got, err := MACD{}.Calculate(flat("5", "5", "5", "5", "5"), inst, suite.sym)
	suite.Require().NoError(err)
	suite.requireValue("0", got, "macd")
	suite.requireValue("0", got, "macd_signal")
	suite.requireValue("0", got, "macd_hist")

	got, err = MACD{}.Calculate(flat("1", "2", "3", "4", "5", "6"), inst, suite.sym)
	suite.Require().NoError(err)
	suite.True(got["macd"].IsPositive())

	_, err = MACD{}.Calculate(flat("1", "2", "3"), instance(types.IndicatorKindMACD, map[string]string{"fast": "5", "slow": "3"}), suite.sym)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *CalculatorTestSuite) TestSMI() {
	inst := instance(types.IndicatorKindSMI, map[string]string{"k": "3", "d": "2", "signal": "2"})

	got, err := SMI{}.Calculate(flat("5", "5", "5", "5", "5", "5"), inst, suite.sym)
	suite.Require().NoError(err)
	suite.requireValue("0", got, "smi")
	suite.requireValue("0", got, "smi_signal")

	bars := mocks.GenerateBars("BTCUSDT", 120)
	got, err = SMI{}.Calculate(bars, instance(types.IndicatorKindSMI, nil), suite.sym)
	suite.Require().NoError(err)
	suite.True(got["smi"].Abs().LessThanOrEqual(decimal.NewFromInt(100)))
}

func (suite *CalculatorTestSuite) TestInsufficientData() {
	tests := []struct {
		name string
		calc Calculator
		bars int
	}{
		{name: "ema", calc: EMA{}, bars: 19},
		{name: "atr", calc: ATR{}, bars: 14},
		{name: "rsi", calc: RSI{}, bars: 14},
		{name: "mfi", calc: MFI{}, bars: 14},
		{name: "lr", calc: LR{}, bars: 99},
		{name: "smi", calc: SMI{}, bars: 15},
		{name: "macd", calc: MACD{}, bars: 33},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			frame := mocks.GenerateBars("BTCUSDT", tc.bars)
			_, err := tc.calc.Calculate(frame, instance(tc.calc.Kind(), nil), suite.sym)
			suite.True(errors.IsInsufficientDataError(err), "got %v", err)

			frame = mocks.GenerateBars("BTCUSDT", tc.bars+1)
			_, err = tc.calc.Calculate(frame, instance(tc.calc.Kind(), nil), suite.sym)
			suite.NoError(err)
		})
	}
}

func (suite *CalculatorTestSuite) TestInvalidParameter() {
	_, err := EMA{}.Calculate(flat("1"), instance(types.IndicatorKindEMA, map[string]string{"period": "abc"}), suite.sym)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	_, err = RSI{}.Calculate(flat("1"), instance(types.IndicatorKindRSI, map[string]string{"period": "0"}), suite.sym)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *CalculatorTestSuite) TestPriceOutputsUseSymbolPrecision() {
	sym := suite.sym
	sym.PrecisionPrice = 1

	got, err := EMA{}.Calculate(flat("1", "1", "2"), instance(types.IndicatorKindEMA, map[string]string{"period": "2"}), sym)
	suite.Require().NoError(err)
	// seed 1, then (2-1)*2/3+1 = 1.666.. half-up to one place
	suite.requireValue("1.7", got, "ema2")
}
