package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

var barColumns = []string{"symbol", "open_time", "open", "high", "low", "close", "volume", "source"}

func barTable(tf types.Timeframe) (string, error) {
	if !tf.Valid() {
		return "", errors.Newf(errors.ErrCodeInvalidTimeframe, "unknown timeframe %q", tf)
	}

	return tf.Table(), nil
}

// UpsertBar writes bar keyed on (symbol, open_time). The latest write wins.
func (s *Store) UpsertBar(ctx context.Context, bar types.Bar) error {
	return s.upsertBars(ctx, s.db, bar.Timeframe, []types.Bar{bar})
}

// UpsertBars writes bars of one timeframe in a single statement.
func (s *Store) UpsertBars(ctx context.Context, tf types.Timeframe, bars []types.Bar) error {
	return s.upsertBars(ctx, s.db, tf, bars)
}

func (s *Store) upsertBars(ctx context.Context, q execer, tf types.Timeframe, bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	table, err := barTable(tf)
	if err != nil {
		return err
	}

	b := s.sq.Insert(table).Columns(barColumns...)
	for _, bar := range bars {
		b = b.Values(bar.Symbol, bar.OpenTime.UTC(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, string(bar.Source))
	}

	b = b.Suffix(`ON CONFLICT (symbol, open_time) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		close = EXCLUDED.close, volume = EXCLUDED.volume, source = EXCLUDED.source`)

	_, err = s.exec(ctx, q, b)

	return err
}

// GetBars returns bars with open_time in [from, to], ascending.
func (s *Store) GetBars(ctx context.Context, symbol string, tf types.Timeframe, from, to time.Time) ([]types.Bar, error) {
	table, err := barTable(tf)
	if err != nil {
		return nil, err
	}

	var bars []types.Bar

	q := s.sq.Select(barColumns...).From(table).
		Where(squirrel.Eq{"symbol": symbol}).
		Where(squirrel.GtOrEq{"open_time": from.UTC()}).
		Where(squirrel.LtOrEq{"open_time": to.UTC()}).
		OrderBy("open_time ASC")

	if err := s.selectInto(ctx, s.db, &bars, q); err != nil {
		return nil, err
	}

	return withTimeframe(bars, tf), nil
}

// LastBars returns the latest limit bars of symbol, ascending.
func (s *Store) LastBars(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	table, err := barTable(tf)
	if err != nil {
		return nil, err
	}

	var bars []types.Bar

	q := s.sq.Select(barColumns...).From(table).
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("open_time DESC").
		Limit(uint64(limit))

	if err := s.selectInto(ctx, s.db, &bars, q); err != nil {
		return nil, err
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	return withTimeframe(bars, tf), nil
}

// BarExists reports whether a bar opening at openTime is stored.
func (s *Store) BarExists(ctx context.Context, symbol string, tf types.Timeframe, openTime time.Time) (bool, error) {
	table, err := barTable(tf)
	if err != nil {
		return false, err
	}

	var n int

	q := s.sq.Select("COUNT(*)").From(table).
		Where(squirrel.Eq{"symbol": symbol, "open_time": openTime.UTC()})

	if err := s.getInto(ctx, s.db, &n, q); err != nil {
		return false, err
	}

	return n > 0, nil
}

// ExistingOpenTimes returns which of the given minute open times are stored for symbol.
func (s *Store) ExistingOpenTimes(ctx context.Context, symbol string, tf types.Timeframe, from, to time.Time) ([]time.Time, error) {
	table, err := barTable(tf)
	if err != nil {
		return nil, err
	}

	var times []time.Time

	q := s.sq.Select("open_time").From(table).
		Where(squirrel.Eq{"symbol": symbol}).
		Where(squirrel.GtOrEq{"open_time": from.UTC()}).
		Where(squirrel.LtOrEq{"open_time": to.UTC()}).
		OrderBy("open_time ASC")

	if err := s.selectInto(ctx, s.db, &times, q); err != nil {
		return nil, err
	}

	return times, nil
}

// ReplaceBars deletes bars of tf in [from, to] and inserts replacement in one transaction.
func (s *Store) ReplaceBars(ctx context.Context, symbol string, tf types.Timeframe, from, to time.Time, replacement []types.Bar) error {
	table, err := barTable(tf)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		del := s.sq.Delete(table).
			Where(squirrel.Eq{"symbol": symbol}).
			Where(squirrel.GtOrEq{"open_time": from.UTC()}).
			Where(squirrel.LtOrEq{"open_time": to.UTC()})

		if _, err := s.exec(ctx, tx, del); err != nil {
			return err
		}

		return s.upsertBars(ctx, tx, tf, replacement)
	})
}

// BarSymbols lists symbols that have minute bars.
func (s *Store) BarSymbols(ctx context.Context) ([]string, error) {
	var symbols []string

	q := s.sq.Select("DISTINCT symbol").From(types.TimeframeM1.Table()).OrderBy("symbol")
	if err := s.selectInto(ctx, s.db, &symbols, q); err != nil {
		return nil, err
	}

	return symbols, nil
}

func withTimeframe(bars []types.Bar, tf types.Timeframe) []types.Bar {
	for i := range bars {
		bars[i].Timeframe = tf
		bars[i].OpenTime = bars[i].OpenTime.UTC()
	}

	return bars
}
