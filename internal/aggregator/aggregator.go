// Package aggregator builds M5/M15/M30/H1/H4 bars from minute bars.
//
// A higher-timeframe bar is emitted only when every minute of its window is
// present. A short window is skipped and left to the next request, which
// arrives after gap repair re-announces the window.
package aggregator

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

// Store is the bar storage used by the aggregator.
type Store interface {
	GetBars(ctx context.Context, symbol string, tf types.Timeframe, from time.Time, to time.Time) ([]types.Bar, error)
	UpsertBar(ctx context.Context, bar types.Bar) error
}

type Aggregator struct {
	store     Store
	publisher bus.Publisher
	logger    *logger.Logger
}

func New(store Store, publisher bus.Publisher, log *logger.Logger) *Aggregator {
	return &Aggregator{
		store:     store,
		publisher: publisher,
		logger:    log.Named("aggregator"),
	}
}

// Aggregate folds exactly tf.Minutes() consecutive minute bars, ascending, into
// one tf bar opening at the first minute.
func Aggregate(symbol string, tf types.Timeframe, minutes []types.Bar) (types.Bar, error) {
	k := tf.Minutes()
	if k <= 1 {
		return types.Bar{}, errors.Newf(errors.ErrCodeInvalidTimeframe, "cannot aggregate into %q", tf)
	}

	if len(minutes) != k {
		return types.Bar{}, errors.NewInsufficientDataErrorf(k, len(minutes), symbol,
			"%s window needs %d minute bars, found %d", tf, k, len(minutes))
	}

	first := minutes[0]
	if !tf.Align(first.OpenTime).Equal(first.OpenTime.UTC()) {
		return types.Bar{}, errors.Newf(errors.ErrCodeInvalidParameter, "%s window must start on a %s boundary, got %s",
			symbol, tf, first.OpenTime.UTC().Format(time.RFC3339))
	}

	out := types.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  first.OpenTime.UTC(),
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     minutes[k-1].Close,
		Volume:    first.Volume,
		Source:    types.BarSourceAggregated,
	}

	for i, m := range minutes[1:] {
		expected := first.OpenTime.Add(time.Duration(i+1) * time.Minute)
		if !m.OpenTime.Equal(expected) {
			return types.Bar{}, errors.NewInsufficientDataErrorf(k, i+1, symbol,
				"%s window has no minute bar at %s", tf, expected.UTC().Format(time.RFC3339))
		}

		if m.High.GreaterThan(out.High) {
			out.High = m.High
		}

		if m.Low.LessThan(out.Low) {
			out.Low = m.Low
		}

		out.Volume = out.Volume.Add(m.Volume)
	}

	return out, nil
}

// Handle builds and stores the bar described by req and announces it on
// ohlcv_{interval}_ready. An incomplete window is logged and skipped.
func (a *Aggregator) Handle(ctx context.Context, req types.AggregateRequest) error {
	tf := req.Interval
	if !tf.Valid() || tf == types.TimeframeM1 {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid aggregation interval %q", tf)
	}

	symbol := types.NormalizeSymbol(req.Symbol)
	until := types.TimeframeM1.Align(req.Until)
	from := tf.WindowStart(until)

	minutes, err := a.store.GetBars(ctx, symbol, types.TimeframeM1, from, until)
	if err != nil {
		return err
	}

	bar, err := Aggregate(symbol, tf, minutes)
	if errors.IsInsufficientDataError(err) {
		metrics.Aggregations.WithLabelValues(string(tf), "incomplete").Inc()
		a.logger.Warn("Skipping incomplete window",
			zap.String("symbol", symbol),
			zap.String("interval", string(tf)),
			zap.Time("from", from),
			zap.Int("minutes", len(minutes)),
		)

		return nil
	}

	if err != nil {
		metrics.Aggregations.WithLabelValues(string(tf), "error").Inc()

		return err
	}

	if err := a.store.UpsertBar(ctx, bar); err != nil {
		metrics.Aggregations.WithLabelValues(string(tf), "error").Inc()

		return err
	}

	ready := types.BarReady{Symbol: symbol, Timeframe: tf, OpenTime: bar.OpenTime}
	if err := a.publisher.Publish(ctx, tf.ReadyChannel(), ready); err != nil {
		return err
	}

	metrics.Aggregations.WithLabelValues(string(tf), "ok").Inc()
	a.logger.Debug("Aggregated bar",
		zap.String("symbol", symbol),
		zap.String("interval", string(tf)),
		zap.Time("open_time", bar.OpenTime),
	)

	return nil
}

// Run consumes ohlcv_aggregate until ctx is done.
func (a *Aggregator) Run(ctx context.Context, sub bus.Subscriber) error {
	return sub.Listen(ctx, func(ctx context.Context, msg bus.Message) error {
		var req types.AggregateRequest
		if err := msg.Decode(&req); err != nil {
			return err
		}

		return a.Handle(ctx, req)
	}, bus.ChannelAggregate)
}
