package types

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

type IndicatorKind string

const (
	IndicatorKindEMA  IndicatorKind = "ema"
	IndicatorKindATR  IndicatorKind = "atr"
	IndicatorKindRSI  IndicatorKind = "rsi"
	IndicatorKindMFI  IndicatorKind = "mfi"
	IndicatorKindLR   IndicatorKind = "lr"
	IndicatorKindSMI  IndicatorKind = "smi"
	IndicatorKindMACD IndicatorKind = "macd"
)

// IndicatorInstance is one row of the calculation matrix: a kind on a
// timeframe with its own parameters.
type IndicatorInstance struct {
	ID            int64             `db:"id" json:"id"`
	Kind          IndicatorKind     `db:"indicator" json:"indicator"`
	Timeframe     Timeframe         `db:"timeframe" json:"timeframe"`
	StreamPublish bool              `db:"stream_publish" json:"stream_publish"`
	Enabled       bool              `db:"enabled" json:"enabled"`
	Params        map[string]string `db:"-" json:"params"`
}

// IntParam reads an integer parameter, falling back to def when absent.
func (i IndicatorInstance) IntParam(name string, def int) (int, error) {
	raw, ok := i.Params[name]
	if !ok || raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "indicator %d: parameter %s=%q is not an integer", i.ID, name, raw)
	}

	if v <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "indicator %d: parameter %s must be positive, got %d", i.ID, name, v)
	}

	return v, nil
}

// DecimalParam reads a decimal parameter, falling back to def when absent.
func (i IndicatorInstance) DecimalParam(name string, def decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := i.Params[name]
	if !ok || raw == "" {
		return def, nil
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "indicator %d: parameter %s=%q is not a number", i.ID, name, raw)
	}

	return v, nil
}

type IndicatorParameter struct {
	InstanceID int64  `db:"instance_id"`
	Param      string `db:"param"`
	Value      string `db:"value"`
}

// IndicatorValue is one persisted output of a calculator.
type IndicatorValue struct {
	InstanceID int64           `db:"instance_id" json:"instance_id"`
	Symbol     string          `db:"symbol" json:"symbol"`
	OpenTime   time.Time       `db:"open_time" json:"open_time"`
	ParamName  string          `db:"param_name" json:"param_name"`
	Value      decimal.Decimal `db:"value" json:"value"`
}

// IndicatorKey is the scratchpad key holding the latest scalar of one output,
// e.g. "BTCUSDT:m5:ema:ema50".
func IndicatorKey(symbol string, tf Timeframe, kind IndicatorKind, param string) string {
	return fmt.Sprintf("%s:%s:%s:%s", symbol, tf, kind, param)
}

// PriceKey is the scratchpad key holding the latest mark price of symbol.
func PriceKey(symbol string) string {
	return "price:" + symbol
}

// IndicatorsReady is the payload of indicators_ready_stream.
type IndicatorsReady struct {
	Symbol       string            `json:"symbol"`
	Timeframe    Timeframe         `json:"timeframe"`
	Indicator    IndicatorKind     `json:"indicator"`
	Params       map[string]string `json:"params"`
	Values       map[string]string `json:"values,omitempty"`
	OpenTime     time.Time         `json:"open_time"`
	CalculatedAt time.Time         `json:"calculated_at"`
}
