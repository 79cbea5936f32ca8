package types

import "github.com/shopspring/decimal"

const (
	// PnLPlaces is the precision of every persisted pnl value.
	PnLPlaces int32 = 8
	// PercentPlaces is used for oscillators expressed in percent (RSI, MFI, SMI).
	PercentPlaces int32 = 2
	// AnglePlaces is used for regression channel angles.
	AnglePlaces int32 = 5
)

var hundred = decimal.NewFromInt(100)

// RoundHalfUp rounds half away from zero.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// RoundDown truncates toward zero.
func RoundDown(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundDown(places)
}

// Percent returns d * p / 100.
func Percent(d, p decimal.Decimal) decimal.Decimal {
	return d.Mul(p).Div(hundred)
}

// MustDecimal parses s and panics on failure. Only for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
