package store

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

var strategyColumns = []string{
	"id", "name", "evaluator", "deposit", "position_limit", "leverage", "max_risk", "timeframe",
	"use_all_tickers", "enabled", "archived", "allow_open", "reverse",
}

type strategyTicker struct {
	StrategyID int64  `db:"strategy_id"`
	Symbol     string `db:"symbol"`
}

// ListStrategies loads every non-archived strategy with tickers, TP ladder and TP→SL rules.
func (s *Store) ListStrategies(ctx context.Context) ([]types.Strategy, error) {
	return s.loadStrategies(ctx, squirrel.Eq{"archived": false})
}

// GetStrategy loads one strategy by id, archived or not.
func (s *Store) GetStrategy(ctx context.Context, id int64) (types.Strategy, error) {
	out, err := s.loadStrategies(ctx, squirrel.Eq{"id": id})
	if err != nil {
		return types.Strategy{}, err
	}

	if len(out) == 0 {
		return types.Strategy{}, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %d not found", id)
	}

	return out[0], nil
}

func (s *Store) loadStrategies(ctx context.Context, where squirrel.Sqlizer) ([]types.Strategy, error) {
	var strategies []types.Strategy

	q := s.sq.Select(strategyColumns...).From("strategies").Where(where).OrderBy("id")
	if err := s.selectInto(ctx, s.db, &strategies, q); err != nil {
		return nil, err
	}

	if len(strategies) == 0 {
		return strategies, nil
	}

	ids := make([]int64, len(strategies))
	index := make(map[int64]int, len(strategies))

	for i, st := range strategies {
		ids[i] = st.ID
		index[st.ID] = i
	}

	var tickers []strategyTicker
	if err := s.selectInto(ctx, s.db, &tickers,
		s.sq.Select("strategy_id", "symbol").From("strategy_tickers").Where(squirrel.Eq{"strategy_id": ids}).OrderBy("symbol")); err != nil {
		return nil, err
	}

	var levels []types.StrategyTpLevel
	if err := s.selectInto(ctx, s.db, &levels,
		s.sq.Select("strategy_id", "level", "tp_type", "tp_value", "volume_percent", "tp_trigger_type", "COALESCE(trigger_signal, '') AS trigger_signal").
			From("strategy_tp_levels").Where(squirrel.Eq{"strategy_id": ids}).OrderBy("strategy_id", "level")); err != nil {
		return nil, err
	}

	var rules []types.StrategyTpSl
	if err := s.selectInto(ctx, s.db, &rules,
		s.sq.Select("strategy_id", "tp_level", "sl_mode", "sl_value").
			From("strategy_tp_sl").Where(squirrel.Eq{"strategy_id": ids}).OrderBy("strategy_id", "tp_level")); err != nil {
		return nil, err
	}

	for _, t := range tickers {
		st := &strategies[index[t.StrategyID]]
		st.Tickers = append(st.Tickers, t.Symbol)
	}

	for _, l := range levels {
		st := &strategies[index[l.StrategyID]]
		st.TpLevels = append(st.TpLevels, l)
	}

	for _, r := range rules {
		st := &strategies[index[r.StrategyID]]
		st.TpSl = append(st.TpSl, r)
	}

	return strategies, nil
}
