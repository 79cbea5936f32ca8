package follower

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

// Tracked is an open position with what the follower needs to move it.
type Tracked struct {
	Position *types.Position
	Symbol   types.Symbol
	Strategy types.Strategy
}

// Evaluator turns price ticks and exit signals into position changes.
// It never mutates its input.
type Evaluator struct {
	Commission decimal.Decimal
}

// Check validates the invariants of an open position.
func (e Evaluator) Check(t Tracked) error {
	pos := t.Position

	if pos.QuantityLeft.IsNegative() {
		return errors.Newf(errors.ErrCodeDomainFault, "position %d has negative quantity_left %s", pos.ID, pos.QuantityLeft)
	}

	if n := pos.ActiveSLCount(); n != 1 {
		return errors.Newf(errors.ErrCodeDomainFault, "position %d holds %d live stop-losses", pos.ID, n)
	}

	return nil
}

// OnPrice applies one mark price to t. TPs are checked before the SL and at
// most one target fires.
func (e Evaluator) OnPrice(t Tracked, mark decimal.Decimal, now time.Time) (optional.Option[types.PositionChange], error) {
	if err := e.Check(t); err != nil {
		return optional.None[types.PositionChange](), err
	}

	pos := t.Position
	price := t.Symbol.RoundPrice(mark)
	long := pos.Direction == types.DirectionLong

	for _, tp := range pos.ActiveTPs() {
		if tp.TriggerType != types.TriggerTypePrice || !tp.Price.Valid {
			continue
		}

		if (long && price.GreaterThanOrEqual(tp.Price.Decimal)) || (!long && price.LessThanOrEqual(tp.Price.Decimal)) {
			change, err := e.takeProfit(t, tp, tp.Price.Decimal, now)

			return optional.Some(change), err
		}
	}

	sl, _ := pos.ActiveSL()

	if (long && price.LessThanOrEqual(sl.Price.Decimal)) || (!long && price.GreaterThanOrEqual(sl.Price.Decimal)) {
		return optional.Some(e.stopLoss(t, sl, now)), nil
	}

	return optional.None[types.PositionChange](), nil
}

// OnExit fires the lowest signal-triggered TP that exit matches, at mark.
func (e Evaluator) OnExit(t Tracked, exit types.ExitSignal, mark decimal.Decimal, now time.Time) (optional.Option[types.PositionChange], error) {
	pos := t.Position
	if pos.Symbol != exit.Symbol {
		return optional.None[types.PositionChange](), nil
	}

	for _, tp := range pos.ActiveTPs() {
		if tp.TriggerType != types.TriggerTypeSignal || !exit.Matches(tp.TriggerSignal, pos.StrategyID, pos.Direction) {
			continue
		}

		if err := e.Check(t); err != nil {
			return optional.None[types.PositionChange](), err
		}

		change, err := e.takeProfit(t, tp, t.Symbol.RoundPrice(mark), now)

		return optional.Some(change), err
	}

	return optional.None[types.PositionChange](), nil
}

// Fault closes t at mark after an invariant broke.
func (e Evaluator) Fault(t Tracked, mark decimal.Decimal, now time.Time) types.PositionChange {
	pos := t.Position.Clone()
	price := t.Symbol.RoundPrice(mark)
	change := types.PositionChange{HitAt: now}

	if pos.QuantityLeft.IsPositive() {
		e.realize(pos, price, pos.QuantityLeft)
	}

	change.CancelTargetIDs = cancelActive(pos)
	closeOut(pos, price, types.CloseReasonFault, now)
	change.Position = *pos

	return change
}

func (e Evaluator) takeProfit(t Tracked, tp types.PositionTarget, fill decimal.Decimal, now time.Time) (types.PositionChange, error) {
	pos := t.Position.Clone()
	change := types.PositionChange{HitAt: now, HitTargetIDs: []int64{tp.ID}}

	e.realize(pos, fill, tp.Quantity)
	markHit(pos, tp.ID, now)

	pos.QuantityLeft = pos.QuantityLeft.Sub(tp.Quantity)
	pos.CloseReason = types.TPLevelHitReason(tp.Level)

	if pos.QuantityLeft.IsNegative() {
		return change, errors.Newf(errors.ErrCodeDomainFault,
			"tp %d of position %d overfills by %s", tp.Level, pos.ID, pos.QuantityLeft.Neg())
	}

	if pos.QuantityLeft.IsZero() {
		change.CancelTargetIDs = cancelActive(pos)
		closeOut(pos, fill, types.CloseReasonTPFull, now)
		change.Position = *pos

		return change, nil
	}

	old, _ := pos.ActiveSL()
	change.CancelTargetIDs = []int64{old.ID}
	cancel(pos, old.ID)

	stop := e.movedStop(t, tp.Level, old.Price.Decimal)
	change.NewTargets = []types.PositionTarget{{
		PositionID:  pos.ID,
		Type:        types.TargetTypeSL,
		Price:       decimal.NewNullDecimal(stop),
		Quantity:    pos.QuantityLeft,
		TriggerType: types.TriggerTypePrice,
	}}

	pos.Status = types.PositionStatusPartial
	pos.PlannedRisk = risk(pos.EntryPrice, stop, pos.QuantityLeft)
	change.Position = *pos

	return change, nil
}

// movedStop is the SL placed after TP level fires. Without a rule, or
// with sl_mode none, the current stop is kept for the remaining quantity.
func (e Evaluator) movedStop(t Tracked, level int, current decimal.Decimal) decimal.Decimal {
	rule := t.Strategy.SlRuleAfter(level)
	if rule.IsNone() {
		return current
	}

	r := rule.Unwrap()
	entry := t.Position.EntryPrice
	sign := t.Position.Direction.Sign()

	switch r.SlMode {
	case types.SlModeEntry:
		return entry
	case types.SlModePercent:
		return t.Symbol.RoundPrice(entry.Add(sign.Mul(types.Percent(entry, r.SlValue))))
	case types.SlModeATR:
		return t.Symbol.RoundPrice(entry.Add(sign.Mul(r.SlValue).Mul(t.Position.EntryATR)))
	default:
		return current
	}
}

func (e Evaluator) stopLoss(t Tracked, sl types.PositionTarget, now time.Time) types.PositionChange {
	pos := t.Position.Clone()
	fill := sl.Price.Decimal
	reason := types.CloseReasonSL

	if pos.HasHitTP() {
		reason = types.CloseReasonSLTP
	}

	e.realize(pos, fill, pos.QuantityLeft)
	markHit(pos, sl.ID, now)

	change := types.PositionChange{HitAt: now, HitTargetIDs: []int64{sl.ID}}
	change.CancelTargetIDs = cancelActive(pos)
	closeOut(pos, fill, reason, now)
	change.Position = *pos

	return change
}

// realize books the pnl of closing qty at fill. The entry commission is
// charged together with the first exit fill.
func (e Evaluator) realize(pos *types.Position, fill, qty decimal.Decimal) {
	delta := fill.Sub(pos.EntryPrice).Mul(pos.Direction.Sign())
	fee := fill.Mul(qty).Mul(e.Commission)

	if pos.QuantityLeft.Equal(pos.Quantity) {
		fee = fee.Add(pos.EntryPrice.Mul(pos.Quantity).Mul(e.Commission))
	}

	fee = types.RoundHalfUp(fee, types.PnLPlaces)
	pos.Commission = pos.Commission.Add(fee)
	pos.PnL = types.RoundHalfUp(pos.PnL.Add(delta.Mul(qty)).Sub(fee), types.PnLPlaces)
}

func closeOut(pos *types.Position, exit decimal.Decimal, reason string, now time.Time) {
	closedAt := now

	pos.Status = types.PositionStatusClosed
	pos.QuantityLeft = decimal.Zero
	pos.PlannedRisk = decimal.Zero
	pos.ExitPrice = decimal.NewNullDecimal(exit)
	pos.ClosedAt = &closedAt
	pos.CloseReason = reason
}

func risk(entry, stop, qty decimal.Decimal) decimal.Decimal {
	return types.RoundHalfUp(entry.Sub(stop).Abs().Mul(qty), types.PnLPlaces)
}

func markHit(pos *types.Position, id int64, now time.Time) {
	hitAt := now

	for i := range pos.Targets {
		if pos.Targets[i].ID == id {
			pos.Targets[i].Hit = true
			pos.Targets[i].HitAt = &hitAt
		}
	}
}

func cancel(pos *types.Position, id int64) {
	for i := range pos.Targets {
		if pos.Targets[i].ID == id {
			pos.Targets[i].Canceled = true
		}
	}
}

func cancelActive(pos *types.Position) []int64 {
	var ids []int64

	for i := range pos.Targets {
		if pos.Targets[i].Active() {
			pos.Targets[i].Canceled = true
			ids = append(ids, pos.Targets[i].ID)
		}
	}

	return ids
}

// describe renders a change for logs.
func describe(c types.PositionChange) string {
	p := c.Position

	return fmt.Sprintf("%s %s, left %s, pnl %s", p.Status, p.CloseReason, p.QuantityLeft, p.PnL)
}
