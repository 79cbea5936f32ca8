package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

var positionColumns = []string{
	"id", "strategy_id", "symbol", "direction", "entry_price", "entry_atr", "quantity", "quantity_left",
	"notional_value", "status", "planned_risk", "pnl", "commission", "close_reason", "exit_price",
	"log_id", "created_at", "closed_at",
}

var targetColumns = []string{
	"id", "position_id", "type", "level", "price", "quantity", "hit", "hit_at", "canceled",
	"tp_trigger_type", "trigger_signal",
}

var openStatuses = []string{string(types.PositionStatusOpen), string(types.PositionStatusPartial)}

// OpenNotional sums notional_value over the strategy's open positions.
func (s *Store) OpenNotional(ctx context.Context, strategyID int64) (decimal.Decimal, error) {
	var total decimal.Decimal

	q := s.sq.Select("COALESCE(SUM(notional_value), 0)").From("positions").
		Where(squirrel.Eq{"strategy_id": strategyID, "status": openStatuses})

	if err := s.getInto(ctx, s.db, &total, q); err != nil {
		return decimal.Zero, err
	}

	return total, nil
}

// HasOpenPosition reports whether strategy already holds symbol.
func (s *Store) HasOpenPosition(ctx context.Context, strategyID int64, symbol string) (bool, error) {
	var n int

	q := s.sq.Select("COUNT(*)").From("positions").
		Where(squirrel.Eq{"strategy_id": strategyID, "symbol": symbol, "status": openStatuses})

	if err := s.getInto(ctx, s.db, &n, q); err != nil {
		return false, err
	}

	return n > 0, nil
}

// CreatePosition inserts pos and its targets in one transaction and fills in
// the generated ids.
func (s *Store) CreatePosition(ctx context.Context, pos *types.Position) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		q := s.sq.Insert("positions").
			Columns(positionColumns[1:]...).
			Values(
				pos.StrategyID, pos.Symbol, string(pos.Direction), pos.EntryPrice, pos.EntryATR, pos.Quantity, pos.QuantityLeft,
				pos.NotionalValue, string(pos.Status), pos.PlannedRisk, pos.PnL, pos.Commission, pos.CloseReason, pos.ExitPrice,
				pos.LogID, pos.CreatedAt.UTC(), pos.ClosedAt,
			).
			Suffix("RETURNING id")

		if err := s.getInto(ctx, tx, &pos.ID, q); err != nil {
			return err
		}

		for i := range pos.Targets {
			pos.Targets[i].PositionID = pos.ID
		}

		return s.insertTargets(ctx, tx, pos.Targets)
	})
}

func (s *Store) insertTargets(ctx context.Context, tx *sqlx.Tx, targets []types.PositionTarget) error {
	for i := range targets {
		t := &targets[i]

		q := s.sq.Insert("position_targets").
			Columns(targetColumns[1:]...).
			Values(t.PositionID, string(t.Type), t.Level, t.Price, t.Quantity, t.Hit, t.HitAt, t.Canceled, string(t.TriggerType), t.TriggerSignal).
			Suffix("RETURNING id")

		if err := s.getInto(ctx, tx, &t.ID, q); err != nil {
			return err
		}
	}

	return nil
}

// ListOpenPositions loads every open or partial position with all its targets.
func (s *Store) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	return s.listPositions(ctx, squirrel.Eq{"status": openStatuses})
}

// ListClosedPositions loads positions closed at or after since.
func (s *Store) ListClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error) {
	return s.listPositions(ctx, squirrel.And{
		squirrel.Eq{"status": string(types.PositionStatusClosed)},
		squirrel.GtOrEq{"closed_at": since.UTC()},
	})
}

// GetPosition loads one position with its targets.
func (s *Store) GetPosition(ctx context.Context, id int64) (types.Position, error) {
	out, err := s.listPositions(ctx, squirrel.Eq{"id": id})
	if err != nil {
		return types.Position{}, err
	}

	if len(out) == 0 {
		return types.Position{}, errors.Newf(errors.ErrCodePositionNotFound, "position %d not found", id)
	}

	return out[0], nil
}

func (s *Store) listPositions(ctx context.Context, where squirrel.Sqlizer) ([]types.Position, error) {
	var positions []types.Position

	q := s.sq.Select(positionColumns...).From("positions").Where(where).OrderBy("id")
	if err := s.selectInto(ctx, s.db, &positions, q); err != nil {
		return nil, err
	}

	if len(positions) == 0 {
		return positions, nil
	}

	ids := make([]int64, len(positions))
	index := make(map[int64]int, len(positions))

	for i, p := range positions {
		ids[i] = p.ID
		index[p.ID] = i
	}

	var targets []types.PositionTarget

	tq := s.sq.Select(targetColumns...).From("position_targets").
		Where(squirrel.Eq{"position_id": ids}).
		OrderBy("position_id", "id")
	if err := s.selectInto(ctx, s.db, &targets, tq); err != nil {
		return nil, err
	}

	for _, t := range targets {
		p := &positions[index[t.PositionID]]
		p.Targets = append(p.Targets, t)
	}

	return positions, nil
}

// ApplyPositionChange persists one follower event atomically: hit and
// canceled targets, new targets, and the position row. New target ids are
// written back into change.NewTargets. A target that is already hit rolls the
// whole change back with ErrCodePositionConflict.
func (s *Store) ApplyPositionChange(ctx context.Context, change *types.PositionChange) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if len(change.HitTargetIDs) > 0 {
			q := s.sq.Update("position_targets").
				Set("hit", true).
				Set("hit_at", change.HitAt.UTC()).
				Where(squirrel.Eq{"id": change.HitTargetIDs}).
				Where(squirrel.Eq{"hit": false})

			n, err := s.exec(ctx, tx, q)
			if err != nil {
				return err
			}

			if n < int64(len(change.HitTargetIDs)) {
				return errors.Newf(errors.ErrCodePositionConflict,
					"position %d: %d of %d targets already hit", change.Position.ID, int64(len(change.HitTargetIDs))-n, len(change.HitTargetIDs))
			}
		}

		if len(change.CancelTargetIDs) > 0 {
			q := s.sq.Update("position_targets").
				Set("canceled", true).
				Where(squirrel.Eq{"id": change.CancelTargetIDs}).
				Where(squirrel.Eq{"hit": false})
			if _, err := s.exec(ctx, tx, q); err != nil {
				return err
			}
		}

		for i := range change.NewTargets {
			change.NewTargets[i].PositionID = change.Position.ID
		}

		if err := s.insertTargets(ctx, tx, change.NewTargets); err != nil {
			return err
		}

		p := change.Position
		q := s.sq.Update("positions").
			Set("quantity_left", p.QuantityLeft).
			Set("status", string(p.Status)).
			Set("planned_risk", p.PlannedRisk).
			Set("pnl", p.PnL).
			Set("commission", p.Commission).
			Set("close_reason", p.CloseReason).
			Set("exit_price", p.ExitPrice).
			Set("closed_at", p.ClosedAt).
			Where(squirrel.Eq{"id": p.ID}).
			Where(squirrel.NotEq{"status": string(types.PositionStatusClosed)})

		n, err := s.exec(ctx, tx, q)
		if err != nil {
			return err
		}

		if n == 0 {
			return errors.Newf(errors.ErrCodePositionNotFound, "position %d is not open", p.ID)
		}

		return nil
	})
}
