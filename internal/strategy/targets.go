package strategy

import (
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// Plan is a sized entry with its targets, ready to be written.
type Plan struct {
	Symbol      string
	EntryPrice  decimal.Decimal
	Quantity    decimal.Decimal
	Notional    decimal.Decimal
	PlannedRisk decimal.Decimal
	Targets     []types.PositionTarget
}

// Size floors position_limit/price to the symbol's quantity precision. The
// option is empty when the result is below min_qty.
func Size(sym types.Symbol, limit, price decimal.Decimal) optional.Option[decimal.Decimal] {
	if !price.IsPositive() {
		return optional.None[decimal.Decimal]()
	}

	qty := sym.FloorQty(limit.Div(price))
	if !qty.IsPositive() || qty.LessThan(sym.MinQty) {
		return optional.None[decimal.Decimal]()
	}

	return optional.Some(qty)
}

// BuildPlan walks the TP ladder of s and places the initial stop of entry.
// TP quantities never add up to more than qty; levels whose share floors
// to zero are skipped.
func BuildPlan(s types.Strategy, sym types.Symbol, dir types.Direction, price, qty decimal.Decimal, entry Entry) Plan {
	price = sym.RoundPrice(price)
	sign := dir.Sign()
	left := qty

	var targets []types.PositionTarget

	for _, level := range s.SortedTpLevels() {
		tpQty := decimal.Min(sym.FloorQty(types.Percent(qty, level.VolumePercent)), left)
		if !tpQty.IsPositive() {
			continue
		}

		t := types.PositionTarget{
			Type:        types.TargetTypeTP,
			Level:       level.Level,
			Quantity:    tpQty,
			TriggerType: types.TriggerTypePrice,
		}

		switch level.TpType {
		case types.TpTypeATR:
			t.Price = decimal.NewNullDecimal(sym.RoundPrice(price.Add(sign.Mul(level.TpValue).Mul(entry.ATR))))
		case types.TpTypePercent:
			t.Price = decimal.NewNullDecimal(sym.RoundPrice(price.Add(sign.Mul(types.Percent(price, level.TpValue)))))
		case types.TpTypeExternalSignal:
			t.TriggerType = types.TriggerTypeSignal
			t.TriggerSignal = level.TriggerSignal

			if t.TriggerSignal == "" && s.Reverse {
				t.TriggerSignal = types.ActionTriggerSentinel
			}
		default:
			continue
		}

		left = left.Sub(tpQty)
		targets = append(targets, t)
	}

	targets = append(targets, types.PositionTarget{
		Type:        types.TargetTypeSL,
		Price:       decimal.NewNullDecimal(entry.StopLoss),
		Quantity:    qty,
		TriggerType: types.TriggerTypePrice,
	})

	return Plan{
		Symbol:      sym.Symbol,
		EntryPrice:  price,
		Quantity:    qty,
		Notional:    sym.FloorPrice(qty.Mul(price)),
		PlannedRisk: types.RoundHalfUp(price.Sub(entry.StopLoss).Abs().Mul(qty), types.PnLPlaces),
		Targets:     targets,
	}
}
