package ingestion

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/rxtech-lab/argo-signals/pkg/marketdata/provider"
	"go.uber.org/zap"
)

// CheckMissing verifies that every active symbol has the minute bar that
// closed last and records the ones that do not. It returns the number of new
// missing rows.
func (s *Service) CheckMissing(ctx context.Context) (int, error) {
	t := s.opts.Now().UTC().Truncate(time.Minute).Add(-time.Minute)
	recorded := 0

	for _, symbol := range s.ActiveSymbols() {
		exists, err := s.store.BarExists(ctx, symbol, types.TimeframeM1, t)
		if err != nil {
			return recorded, err
		}

		if exists {
			continue
		}

		inserted, err := s.store.RecordMissing(ctx, symbol, t)
		if err != nil {
			return recorded, err
		}

		if inserted {
			recorded++
			metrics.GapsDetected.Inc()
			s.logger.Info("Minute bar missing", zap.String("symbol", symbol), zap.Time("open_time", t))
		}
	}

	return recorded, nil
}

// RepairMissing fetches up to RepairBatch unfixed missing bars from the
// historical endpoint, stores them and re-announces them downstream. Rows the
// exchange cannot serve stay unfixed for the next pass.
func (s *Service) RepairMissing(ctx context.Context) (int, error) {
	rows, err := s.store.ListUnfixedMissing(ctx, s.opts.RepairBatch)
	if err != nil {
		return 0, err
	}

	repaired := 0

	for _, row := range rows {
		if ctx.Err() != nil {
			return repaired, nil
		}

		if err := s.repairOne(ctx, row); err != nil {
			if errors.HasCode(err, errors.ErrCodeDataNotFound) {
				s.logger.Warn("Exchange has no bar for missing minute",
					zap.String("symbol", row.Symbol),
					zap.Time("open_time", row.OpenTime),
				)

				continue
			}

			s.logger.Error("Failed to repair missing bar",
				zap.String("symbol", row.Symbol),
				zap.Time("open_time", row.OpenTime),
				zap.Error(err),
			)

			continue
		}

		repaired++
	}

	return repaired, nil
}

func (s *Service) repairOne(ctx context.Context, row types.MissingBar) error {
	bar, err := provider.FetchMinute(ctx, s.fetcher, row.Symbol, row.OpenTime)
	if err != nil {
		return err
	}

	bar.Symbol = row.Symbol
	bar.Timeframe = types.TimeframeM1
	bar.Source = types.BarSourceAPI

	if err := s.store.UpsertBar(ctx, bar); err != nil {
		return err
	}

	now := s.opts.Now().UTC()
	if err := s.store.MarkMissingFixed(ctx, row.Symbol, row.OpenTime, now); err != nil {
		return err
	}

	metrics.BarsIngested.WithLabelValues(string(bar.Source)).Inc()
	metrics.GapsRepaired.Inc()
	s.logger.Info("Missing bar repaired", zap.String("symbol", row.Symbol), zap.Time("open_time", bar.OpenTime))

	return s.announceRepaired(ctx, row.Symbol, bar.OpenTime, now)
}

// announceRepaired re-emits ohlcv_m1_ready for a repaired minute and asks for
// every higher-timeframe window around it that has already closed. Windows
// still open are requested by the live stream when they close.
func (s *Service) announceRepaired(ctx context.Context, symbol string, openTime, now time.Time) error {
	if err := s.publishReady(ctx, symbol, openTime); err != nil {
		return err
	}

	for _, tf := range types.AggregatedTimeframes {
		until := tf.Align(openTime).Add(tf.Duration() - time.Minute)
		if until.Add(time.Minute).After(now) {
			continue
		}

		req := types.AggregateRequest{Symbol: symbol, Interval: tf, Until: until}
		if err := s.publisher.Publish(ctx, bus.ChannelAggregate, req); err != nil {
			return err
		}
	}

	return nil
}
