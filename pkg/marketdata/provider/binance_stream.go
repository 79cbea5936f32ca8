package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 1 << 20
)

type BinanceStreamOptions struct {
	// BaseURL is the futures WebSocket host, e.g. wss://fstream.binance.com.
	BaseURL          string
	HandshakeTimeout time.Duration
	// ReadTimeout closes a connection that stays silent for longer. Zero disables it.
	ReadTimeout time.Duration
}

// BinanceStream is a Feed over the futures market streams.
type BinanceStream struct {
	baseURL     string
	dialer      *websocket.Dialer
	readTimeout time.Duration
	logger      *logger.Logger
}

// BinanceWsKline is the "k" object of a kline event. encoding/json matches keys
// case-insensitively, so every upper-case sibling key is declared too.
type BinanceWsKline struct {
	StartTime            int64  `json:"t"`
	EndTime              int64  `json:"T"`
	Symbol               string `json:"s"`
	Interval             string `json:"i"`
	FirstTradeID         int64  `json:"f"`
	LastTradeID          int64  `json:"L"`
	Open                 string `json:"o"`
	High                 string `json:"h"`
	Low                  string `json:"l"`
	Close                string `json:"c"`
	Volume               string `json:"v"`
	TradeNum             int64  `json:"n"`
	IsFinal              bool   `json:"x"`
	QuoteVolume          string `json:"q"`
	ActiveBuyVolume      string `json:"V"`
	ActiveBuyQuoteVolume string `json:"Q"`
}

type BinanceWsKlineEvent struct {
	Event  string         `json:"e"`
	Time   int64          `json:"E"`
	Symbol string         `json:"s"`
	Kline  BinanceWsKline `json:"k"`
}

type BinanceWsMarkPriceEvent struct {
	Event                string `json:"e"`
	Time                 int64  `json:"E"`
	Symbol               string `json:"s"`
	MarkPrice            string `json:"p"`
	IndexPrice           string `json:"i"`
	EstimatedSettlePrice string `json:"P"`
	FundingRate          string `json:"r"`
	NextFundingTime      int64  `json:"T"`
}

func NewBinanceStream(opts BinanceStreamOptions, log *logger.Logger) *BinanceStream {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &BinanceStream{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		dialer:      &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		readTimeout: opts.ReadTimeout,
		logger:      log.Named("binance-ws"),
	}
}

// Klines implements Feed.
func (s *BinanceStream) Klines(ctx context.Context, symbol string) iter.Seq2[types.Bar, error] {
	url := fmt.Sprintf("%s/ws/%s@kline_1m", s.baseURL, strings.ToLower(symbol))

	return subscribe(ctx, s, url, "kline", func(data []byte) (types.Bar, bool, error) {
		return decodeKline(symbol, data)
	})
}

// MarkPrices implements Feed.
func (s *BinanceStream) MarkPrices(ctx context.Context, symbol string) iter.Seq2[types.MarkPrice, error] {
	url := fmt.Sprintf("%s/ws/%s@markPrice@1s", s.baseURL, strings.ToLower(symbol))

	return subscribe(ctx, s, url, "mark_price", func(data []byte) (types.MarkPrice, bool, error) {
		return decodeMarkPrice(symbol, data)
	})
}

func subscribe[T any](ctx context.Context, s *BinanceStream, url string, feed string, decode func([]byte) (T, bool, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		conn, _, err := s.dialer.DialContext(ctx, url, nil)
		if err != nil {
			yield(zero, errors.Wrapf(errors.ErrCodeUpstreamClosed, err, "failed to connect to %s", url))

			return
		}
		defer conn.Close()

		conn.SetReadLimit(defaultReadLimit)

		metrics.FeedConnections.WithLabelValues(feed).Inc()
		defer metrics.FeedConnections.WithLabelValues(feed).Dec()

		// ReadMessage does not observe ctx; closing the socket unblocks it.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		s.logger.Info("Feed connected", zap.String("url", url))

		for {
			if s.readTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			}

			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				yield(zero, errors.Wrapf(errors.ErrCodeUpstreamClosed, err, "%s feed closed", feed))

				return
			}

			v, ok, err := decode(data)
			if err != nil {
				s.logger.Warn("Dropping malformed feed message", zap.String("feed", feed), zap.Error(err))

				continue
			}

			if !ok {
				continue
			}

			if !yield(v, nil) {
				return
			}
		}
	}
}

// decodeKline parses a kline envelope. ok is false for bars that have not closed yet.
func decodeKline(symbol string, data []byte) (types.Bar, bool, error) {
	var event BinanceWsKlineEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.Bar{}, false, errors.Wrap(errors.ErrCodeMalformedMarketMsg, "invalid kline envelope", err)
	}

	if !event.Kline.IsFinal {
		return types.Bar{}, false, nil
	}

	k := event.Kline
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]decimal.Decimal, len(fields))

	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return types.Bar{}, false, errors.Wrapf(errors.ErrCodeMalformedMarketMsg, err, "invalid kline field %q", f)
		}

		values[i] = v
	}

	if event.Symbol != "" {
		symbol = event.Symbol
	}

	return types.Bar{
		Symbol:    types.NormalizeSymbol(symbol),
		Timeframe: types.TimeframeM1,
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Source:    types.BarSourceStream,
	}, true, nil
}

func decodeMarkPrice(symbol string, data []byte) (types.MarkPrice, bool, error) {
	var event BinanceWsMarkPriceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.MarkPrice{}, false, errors.Wrap(errors.ErrCodeMalformedMarketMsg, "invalid mark price envelope", err)
	}

	if event.MarkPrice == "" {
		return types.MarkPrice{}, false, nil
	}

	price, err := decimal.NewFromString(event.MarkPrice)
	if err != nil {
		return types.MarkPrice{}, false, errors.Wrapf(errors.ErrCodeMalformedMarketMsg, err, "invalid mark price %q", event.MarkPrice)
	}

	ts := time.Now().UTC()
	if event.Time > 0 {
		ts = time.UnixMilli(event.Time).UTC()
	}

	if event.Symbol != "" {
		symbol = event.Symbol
	}

	return types.MarkPrice{Symbol: types.NormalizeSymbol(symbol), Price: price, Time: ts}, true, nil
}
