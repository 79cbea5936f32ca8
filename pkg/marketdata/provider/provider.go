package provider

import (
	"context"
	"iter"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// KlineFetcher pulls closed bars from the exchange's historical REST endpoint.
type KlineFetcher interface {
	// FetchKlines returns the bars of symbol whose open time lies in [start, end], ascending.
	// interval is the exchange interval label ("1m", "5m", "1h").
	FetchKlines(ctx context.Context, symbol string, interval string, start time.Time, end time.Time, limit int) ([]types.Bar, error)
}

// Feed delivers live market data for one symbol.
//
// Both iterators run until ctx is cancelled or the connection drops. A dropped
// connection yields a single UpstreamClosed error and ends the iteration; the
// caller decides whether to reconnect.
type Feed interface {
	// Klines yields closed minute bars only. Bars still forming are discarded.
	Klines(ctx context.Context, symbol string) iter.Seq2[types.Bar, error]
	// MarkPrices yields every mark price update.
	MarkPrices(ctx context.Context, symbol string) iter.Seq2[types.MarkPrice, error]
}

// FetchMinute fetches the single minute bar of symbol opening at openTime.
func FetchMinute(ctx context.Context, f KlineFetcher, symbol string, openTime time.Time) (types.Bar, error) {
	openTime = types.TimeframeM1.Align(openTime)

	bars, err := f.FetchKlines(ctx, symbol, types.TimeframeM1.ExchangeInterval(), openTime, openTime.Add(time.Minute-time.Millisecond), 1)
	if err != nil {
		return types.Bar{}, err
	}

	for _, b := range bars {
		if b.OpenTime.Equal(openTime) {
			return b, nil
		}
	}

	return types.Bar{}, errors.Newf(errors.ErrCodeDataNotFound, "exchange has no %s bar at %s", symbol, openTime.Format(time.RFC3339))
}
