package store

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// ListIndicatorInstances loads instances with their parameters.
func (s *Store) ListIndicatorInstances(ctx context.Context, enabledOnly bool) ([]types.IndicatorInstance, error) {
	q := s.sq.Select("id", "indicator", "timeframe", "stream_publish", "enabled").
		From("indicator_instances").
		OrderBy("id")
	if enabledOnly {
		q = q.Where(squirrel.Eq{"enabled": true})
	}

	var instances []types.IndicatorInstance
	if err := s.selectInto(ctx, s.db, &instances, q); err != nil {
		return nil, err
	}

	if len(instances) == 0 {
		return instances, nil
	}

	ids := make([]int64, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}

	var params []types.IndicatorParameter

	paramQ := s.sq.Select("instance_id", "param", "value").
		From("indicator_parameters").
		Where(squirrel.Eq{"instance_id": ids})
	if err := s.selectInto(ctx, s.db, &params, paramQ); err != nil {
		return nil, err
	}

	byID := make(map[int64]map[string]string, len(instances))
	for _, p := range params {
		if byID[p.InstanceID] == nil {
			byID[p.InstanceID] = map[string]string{}
		}

		byID[p.InstanceID][p.Param] = p.Value
	}

	for i := range instances {
		instances[i].Params = byID[instances[i].ID]
		if instances[i].Params == nil {
			instances[i].Params = map[string]string{}
		}
	}

	return instances, nil
}

// InsertIndicatorValues inserts values; rows that already exist are kept.
func (s *Store) InsertIndicatorValues(ctx context.Context, values []types.IndicatorValue) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	q := s.sq.Insert("indicator_values").Columns("instance_id", "symbol", "open_time", "param_name", "value")
	for _, v := range values {
		q = q.Values(v.InstanceID, v.Symbol, v.OpenTime.UTC(), v.ParamName, v.Value)
	}

	q = q.Suffix("ON CONFLICT (instance_id, symbol, param_name, open_time) DO NOTHING")

	return s.exec(ctx, s.db, q)
}

const trimIndicatorValuesSQL = `DELETE FROM indicator_values iv
USING (
	SELECT instance_id, symbol, param_name, open_time,
		ROW_NUMBER() OVER (PARTITION BY instance_id, symbol, param_name ORDER BY open_time DESC) AS rn
	FROM indicator_values
	WHERE instance_id = $1 AND symbol = $2
) ranked
WHERE iv.instance_id = ranked.instance_id
	AND iv.symbol = ranked.symbol
	AND iv.param_name = ranked.param_name
	AND iv.open_time = ranked.open_time
	AND ranked.rn > $3`

// TrimIndicatorValues keeps the latest keep rows per (instance, symbol, param_name).
func (s *Store) TrimIndicatorValues(ctx context.Context, instanceID int64, symbol string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, trimIndicatorValuesSQL, instanceID, symbol, keep)
	if err != nil {
		return 0, wrapErr(err, "failed to trim indicator values")
	}

	n, _ := res.RowsAffected()

	return n, nil
}

// LastIndicatorValues returns the latest limit values of one output, newest first.
func (s *Store) LastIndicatorValues(ctx context.Context, instanceID int64, symbol, param string, limit int) ([]decimal.Decimal, error) {
	var out []decimal.Decimal

	q := s.sq.Select("value").From("indicator_values").
		Where(squirrel.Eq{"instance_id": instanceID, "symbol": symbol, "param_name": param}).
		OrderBy("open_time DESC").
		Limit(uint64(limit))

	if err := s.selectInto(ctx, s.db, &out, q); err != nil {
		return nil, err
	}

	return out, nil
}

// FindIndicatorInstance returns the first enabled instance of kind on tf.
func (s *Store) FindIndicatorInstance(ctx context.Context, kind types.IndicatorKind, tf types.Timeframe) (types.IndicatorInstance, bool, error) {
	instances, err := s.ListIndicatorInstances(ctx, true)
	if err != nil {
		return types.IndicatorInstance{}, false, err
	}

	for _, inst := range instances {
		if inst.Kind == kind && inst.Timeframe == tf {
			return inst, true, nil
		}
	}

	return types.IndicatorInstance{}, false, nil
}
