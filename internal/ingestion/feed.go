package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// consumeFunc reads one feed connection until it drops. It reports whether
// anything was received so the reconnect backoff can start over.
type consumeFunc func(ctx context.Context, symbol string) (bool, error)

func (s *Service) runKlines(ctx context.Context, symbol string) {
	s.follow(ctx, "klines", symbol, s.consumeKlines)
}

func (s *Service) runMarkPrices(ctx context.Context, symbol string) {
	s.follow(ctx, "mark price", symbol, s.consumeMarkPrices)
}

// follow reconnects consume with exponential backoff on a dropped connection
// and waits ErrorDelay after any other failure.
func (s *Service) follow(ctx context.Context, feed, symbol string, consume consumeFunc) {
	log := s.logger.With(zap.String("symbol", symbol), zap.String("feed", feed))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectInitial
	b.MaxInterval = s.opts.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		received, err := consume(ctx, symbol)
		if ctx.Err() != nil {
			return
		}

		if received {
			b.Reset()
		}

		var delay time.Duration

		if err == nil || errors.HasCode(err, errors.ErrCodeUpstreamClosed) {
			delay = b.NextBackOff()
			log.Info("Feed closed, reconnecting", zap.Duration("delay", delay), zap.Error(err))
		} else {
			delay = s.opts.ErrorDelay
			log.Error("Feed failed", zap.Duration("delay", delay), zap.Error(err))
		}

		if !supervisor.Sleep(ctx, delay) {
			return
		}
	}
}

func (s *Service) consumeKlines(ctx context.Context, symbol string) (bool, error) {
	received := false

	for bar, err := range s.feed.Klines(ctx, symbol) {
		if err != nil {
			return received, err
		}

		received = true

		if err := s.HandleBar(ctx, bar); err != nil {
			// the gap checker picks the minute up again
			s.logger.Error("Failed to ingest bar",
				zap.String("symbol", symbol),
				zap.Time("open_time", bar.OpenTime),
				zap.Error(err),
			)
		}
	}

	return received, nil
}

func (s *Service) consumeMarkPrices(ctx context.Context, symbol string) (bool, error) {
	received := false
	key := types.PriceKey(types.NormalizeSymbol(symbol))

	w := newPriceWriter(rate.NewLimiter(rate.Every(s.opts.MarkPriceInterval), 1), func(ctx context.Context, price string) {
		if err := s.scratchpad.SetKey(ctx, key, price, 0); err != nil {
			s.logger.Warn("Failed to write mark price", zap.String("symbol", symbol), zap.Error(err))
		}
	})

	done := make(chan struct{})

	go func() {
		defer close(done)
		w.run(ctx)
	}()

	defer func() {
		w.close()
		<-done
	}()

	for mp, err := range s.feed.MarkPrices(ctx, symbol) {
		if err != nil {
			return received, err
		}

		received = true

		w.offer(mp.Price.String())
	}

	return received, nil
}

// priceWriter coalesces mark prices: it writes at most once per limiter
// window and always the most recent price offered.
type priceWriter struct {
	limiter *rate.Limiter
	write   func(ctx context.Context, price string)

	mu      sync.Mutex
	pending string
	dirty   bool

	wake chan struct{}
}

func newPriceWriter(limiter *rate.Limiter, write func(ctx context.Context, price string)) *priceWriter {
	return &priceWriter{limiter: limiter, write: write, wake: make(chan struct{}, 1)}
}

// offer replaces the pending price. Must not be called after close.
func (w *priceWriter) offer(price string) {
	w.mu.Lock()
	w.pending, w.dirty = price, true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *priceWriter) take() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	price, ok := w.pending, w.dirty
	w.pending, w.dirty = "", false

	return price, ok
}

func (w *priceWriter) close() {
	close(w.wake)
}

// run writes pending prices until close, flushing the last one, or until ctx
// is done.
func (w *priceWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.wake:
			if !ok {
				w.mu.Lock()
				dirty := w.dirty
				w.mu.Unlock()

				if !dirty {
					return
				}
			}

			if err := w.limiter.Wait(ctx); err != nil {
				return
			}

			if price, has := w.take(); has {
				w.write(ctx, price)
			}

			if !ok {
				return
			}
		}
	}
}

// HandleBar persists a closed minute bar, announces it on ohlcv_m1_ready and
// requests every aggregation whose window closes with it.
func (s *Service) HandleBar(ctx context.Context, bar types.Bar) error {
	bar.Symbol = types.NormalizeSymbol(bar.Symbol)
	bar.Timeframe = types.TimeframeM1
	bar.OpenTime = types.TimeframeM1.Align(bar.OpenTime)

	if bar.Source == "" {
		bar.Source = types.BarSourceStream
	}

	if err := s.store.UpsertBar(ctx, bar); err != nil {
		return err
	}

	metrics.BarsIngested.WithLabelValues(string(bar.Source)).Inc()

	if err := s.publishReady(ctx, bar.Symbol, bar.OpenTime); err != nil {
		return err
	}

	for _, tf := range types.AggregatedTimeframes {
		if !tf.ClosesAt(bar.OpenTime) {
			continue
		}

		req := types.AggregateRequest{Symbol: bar.Symbol, Interval: tf, Until: bar.OpenTime}
		if err := s.publisher.Publish(ctx, bus.ChannelAggregate, req); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) publishReady(ctx context.Context, symbol string, openTime time.Time) error {
	ready := types.BarReady{Symbol: symbol, Timeframe: types.TimeframeM1, OpenTime: openTime}

	return s.publisher.Publish(ctx, bus.ChannelM1Ready, ready)
}
