package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// MaxKlinesPerRequest is the page size cap of the futures klines endpoint.
const MaxKlinesPerRequest = 1000

type BinanceOptions struct {
	// BaseURL overrides the futures REST host, e.g. a testnet or an httptest server.
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// BinanceFuturesClient fetches historical klines from the USD-M futures REST API.
// Requests go through a circuit breaker and are retried on transient failures.
type BinanceFuturesClient struct {
	client  *futures.Client
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	retries int
	logger  *logger.Logger
}

func NewBinanceFuturesClient(opts BinanceOptions, log *logger.Logger) *BinanceFuturesClient {
	client := futures.NewClient("", "")
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}

	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	if opts.Retries < 0 {
		opts.Retries = 0
	}

	log = log.Named("binance-rest")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance-futures-klines",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BinanceFuturesClient{
		client:  client,
		breaker: breaker,
		timeout: opts.Timeout,
		retries: opts.Retries,
		logger:  log,
	}
}

// FetchKlines implements KlineFetcher.
func (c *BinanceFuturesClient) FetchKlines(ctx context.Context, symbol string, interval string, start time.Time, end time.Time, limit int) ([]types.Bar, error) {
	if limit <= 0 || limit > MaxKlinesPerRequest {
		limit = MaxKlinesPerRequest
	}

	var klines []*futures.Kline

	policy := supervisor.RetryPolicy{
		Initial:    250 * time.Millisecond,
		Max:        2 * time.Second,
		MaxRetries: uint64(c.retries),
	}

	err := supervisor.Retry(ctx, policy, func() error {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			return c.client.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(start.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(limit).
				Do(reqCtx)
		})
		if err != nil {
			metrics.HistoricalRequests.WithLabelValues("error").Inc()
			c.logger.Warn("Klines request failed",
				zap.String("symbol", symbol),
				zap.String("interval", interval),
				zap.Time("start", start),
				zap.Error(err),
			)

			if isRequestRejected(err) {
				return errors.Wrapf(errors.ErrCodeInvalidParameter, err, "exchange rejected %s %s klines request", symbol, interval)
			}

			return errors.Wrapf(errors.ErrCodeHistoricalFetch, err, "failed to fetch %s %s klines", symbol, interval)
		}

		metrics.HistoricalRequests.WithLabelValues("ok").Inc()
		klines = res.([]*futures.Kline)

		return nil
	})
	if err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(klines))

	tf := timeframeForInterval(interval)

	for _, k := range klines {
		bar, err := klineToBar(symbol, tf, k)
		if err != nil {
			return nil, err
		}

		bars = append(bars, bar)
	}

	return bars, nil
}

// isRequestRejected reports exchange errors in the -11xx range, which flag a
// malformed request and will not succeed on retry.
func isRequestRejected(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code <= -1100 && apiErr.Code > -1200
}

func timeframeForInterval(interval string) types.Timeframe {
	for _, tf := range append([]types.Timeframe{types.TimeframeM1}, types.AggregatedTimeframes...) {
		if tf.ExchangeInterval() == interval {
			return tf
		}
	}

	return types.TimeframeM1
}

func klineToBar(symbol string, tf types.Timeframe, k *futures.Kline) (types.Bar, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]decimal.Decimal, len(fields))

	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedMarketMsg, err, "invalid kline field %q", f)
		}

		values[i] = v
	}

	return types.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Source:    types.BarSourceAPI,
	}, nil
}
