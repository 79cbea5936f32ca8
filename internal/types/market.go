package types

import (
	"strings"
	"time"

	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

type Timeframe string

const (
	TimeframeM1  Timeframe = "m1"
	TimeframeM5  Timeframe = "m5"
	TimeframeM15 Timeframe = "m15"
	TimeframeM30 Timeframe = "m30"
	TimeframeH1  Timeframe = "h1"
	TimeframeH4  Timeframe = "h4"
)

// AggregatedTimeframes are the timeframes synthesised from minute bars, in ascending order.
var AggregatedTimeframes = []Timeframe{TimeframeM5, TimeframeM15, TimeframeM30, TimeframeH1, TimeframeH4}

var timeframeMinutes = map[Timeframe]int{
	TimeframeM1:  1,
	TimeframeM5:  5,
	TimeframeM15: 15,
	TimeframeM30: 30,
	TimeframeH1:  60,
	TimeframeH4:  240,
}

// ParseTimeframe accepts the symbolic label in any case ("m5", "M5", "H1").
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeMinutes[tf]; !ok {
		return "", errors.Newf(errors.ErrCodeInvalidTimeframe, "unknown timeframe %q", s)
	}

	return tf, nil
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]

	return ok
}

// Minutes returns the number of minute bars in one bar of tf.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// Table is the store table holding bars of tf.
func (tf Timeframe) Table() string {
	return "ohlcv_" + string(tf)
}

// ReadyChannel is the pub/sub channel announcing a completed bar of tf.
func (tf Timeframe) ReadyChannel() string {
	return "ohlcv_" + string(tf) + "_ready"
}

// ExchangeInterval is the kline interval label used by the exchange.
func (tf Timeframe) ExchangeInterval() string {
	switch tf {
	case TimeframeH1:
		return "1h"
	case TimeframeH4:
		return "4h"
	default:
		return strings.TrimPrefix(string(tf), "m") + "m"
	}
}

// Align truncates t to the start of the tf window containing it (UTC).
func (tf Timeframe) Align(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// ClosesAt reports whether the minute bar opening at m1OpenTime is the last
// minute of a tf window. For m5 that is minute%5 == 4, for h4 hour%4 == 3 and minute == 59.
func (tf Timeframe) ClosesAt(m1OpenTime time.Time) bool {
	k := tf.Minutes()
	if k <= 1 {
		return k == 1
	}

	t := m1OpenTime.UTC()
	minuteOfDay := t.Hour()*60 + t.Minute()

	return (minuteOfDay+1)%k == 0
}

// WindowStart returns the open time of the tf bar whose last minute is until.
func (tf Timeframe) WindowStart(until time.Time) time.Time {
	return until.UTC().Add(-time.Duration(tf.Minutes()-1) * time.Minute)
}

type BarSource string

const (
	BarSourceStream     BarSource = "stream"
	BarSourceAPI        BarSource = "api"
	BarSourceAggregated BarSource = "aggregated"
)

// Bar is one OHLCV candle. (Symbol, Timeframe, OpenTime) is unique.
type Bar struct {
	Symbol    string          `db:"symbol" json:"symbol"`
	Timeframe Timeframe       `db:"-" json:"timeframe"`
	OpenTime  time.Time       `db:"open_time" json:"open_time"`
	Open      decimal.Decimal `db:"open" json:"open"`
	High      decimal.Decimal `db:"high" json:"high"`
	Low       decimal.Decimal `db:"low" json:"low"`
	Close     decimal.Decimal `db:"close" json:"close"`
	Volume    decimal.Decimal `db:"volume" json:"volume"`
	Source    BarSource       `db:"source" json:"source"`
}

type SymbolStatus string

const (
	SymbolStatusEnabled  SymbolStatus = "enabled"
	SymbolStatusDisabled SymbolStatus = "disabled"
)

// Symbol is the source of truth for rounding and admissibility of one instrument.
type Symbol struct {
	Symbol          string          `db:"symbol" json:"symbol"`
	PrecisionPrice  int32           `db:"precision_price" json:"precision_price"`
	PrecisionQty    int32           `db:"precision_qty" json:"precision_qty"`
	MinQty          decimal.Decimal `db:"min_qty" json:"min_qty"`
	Status          SymbolStatus    `db:"status" json:"status"`
	TradePermission SymbolStatus    `db:"tradepermission" json:"tradepermission"`
}

func (s Symbol) Enabled() bool {
	return s.Status == SymbolStatusEnabled
}

func (s Symbol) Tradable() bool {
	return s.Enabled() && s.TradePermission == SymbolStatusEnabled
}

// RoundPrice rounds half-up to the symbol's price precision.
func (s Symbol) RoundPrice(d decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(d, s.PrecisionPrice)
}

// FloorPrice rounds down to the symbol's price precision.
func (s Symbol) FloorPrice(d decimal.Decimal) decimal.Decimal {
	return RoundDown(d, s.PrecisionPrice)
}

// FloorQty rounds down to the symbol's quantity precision.
func (s Symbol) FloorQty(d decimal.Decimal) decimal.Decimal {
	return RoundDown(d, s.PrecisionQty)
}

// NormalizeSymbol uppercases s and strips the perpetual ".P" suffix.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))

	return strings.TrimSuffix(s, ".P")
}

// MissingBar is a queued gap in the minute-bar table.
type MissingBar struct {
	Symbol   string     `db:"symbol" json:"symbol"`
	OpenTime time.Time  `db:"open_time" json:"open_time"`
	Fixed    bool       `db:"fixed" json:"fixed"`
	FixedAt  *time.Time `db:"fixed_at" json:"fixed_at,omitempty"`
}

// MarkPrice is one update from the mark-price feed.
type MarkPrice struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}
