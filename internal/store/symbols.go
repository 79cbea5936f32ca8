package store

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

var symbolColumns = []string{"symbol", "precision_price", "precision_qty", "min_qty", "status", "tradepermission"}

// ListSymbols returns tracked symbols. enabledOnly filters on status.
func (s *Store) ListSymbols(ctx context.Context, enabledOnly bool) ([]types.Symbol, error) {
	q := s.sq.Select(symbolColumns...).From("tickers").OrderBy("symbol")
	if enabledOnly {
		q = q.Where(squirrel.Eq{"status": string(types.SymbolStatusEnabled)})
	}

	var out []types.Symbol
	if err := s.selectInto(ctx, s.db, &out, q); err != nil {
		return nil, err
	}

	return out, nil
}

// GetSymbol returns one symbol or ErrCodeSymbolNotFound.
func (s *Store) GetSymbol(ctx context.Context, symbol string) (types.Symbol, error) {
	var out types.Symbol

	q := s.sq.Select(symbolColumns...).From("tickers").Where(squirrel.Eq{"symbol": symbol})
	if err := s.getInto(ctx, s.db, &out, q); err != nil {
		if errors.HasCode(err, errors.ErrCodeDataNotFound) {
			return out, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s is not tracked", symbol)
		}

		return out, err
	}

	return out, nil
}

// UpsertSymbol writes a symbol definition.
func (s *Store) UpsertSymbol(ctx context.Context, sym types.Symbol) error {
	q := s.sq.Insert("tickers").Columns(symbolColumns...).
		Values(sym.Symbol, sym.PrecisionPrice, sym.PrecisionQty, sym.MinQty, string(sym.Status), string(sym.TradePermission)).
		Suffix(`ON CONFLICT (symbol) DO UPDATE SET
			precision_price = EXCLUDED.precision_price, precision_qty = EXCLUDED.precision_qty,
			min_qty = EXCLUDED.min_qty, status = EXCLUDED.status, tradepermission = EXCLUDED.tradepermission`)

	_, err := s.exec(ctx, s.db, q)

	return err
}

// RecordMissing queues a missing minute bar. Already queued rows are left alone.
func (s *Store) RecordMissing(ctx context.Context, symbol string, openTime time.Time) (bool, error) {
	q := s.sq.Insert("missing_m1_log").Columns("symbol", "open_time").
		Values(symbol, openTime.UTC()).
		Suffix("ON CONFLICT (symbol, open_time) DO NOTHING")

	n, err := s.exec(ctx, s.db, q)

	return n > 0, err
}

// ListUnfixedMissing returns up to limit unfixed rows, oldest first.
func (s *Store) ListUnfixedMissing(ctx context.Context, limit int) ([]types.MissingBar, error) {
	var out []types.MissingBar

	q := s.sq.Select("symbol", "open_time", "fixed", "fixed_at").From("missing_m1_log").
		Where(squirrel.Eq{"fixed": false}).
		OrderBy("open_time ASC").
		Limit(uint64(limit))

	if err := s.selectInto(ctx, s.db, &out, q); err != nil {
		return nil, err
	}

	return out, nil
}

// MarkMissingFixed clears one queued gap.
func (s *Store) MarkMissingFixed(ctx context.Context, symbol string, openTime, fixedAt time.Time) error {
	q := s.sq.Update("missing_m1_log").
		Set("fixed", true).
		Set("fixed_at", fixedAt.UTC()).
		Where(squirrel.Eq{"symbol": symbol, "open_time": openTime.UTC()})

	_, err := s.exec(ctx, s.db, q)

	return err
}
