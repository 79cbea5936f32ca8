package ingestion

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/aggregator"
	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/mocks"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"
)

type published struct {
	channel string
	payload any
}

type IngestionTestSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	store      *memoryStore
	publisher  *mocks.MockPublisher
	scratchpad *mocks.MockScratchpad
	feed       *mocks.MockFeed
	fetcher    *mocks.MockKlineFetcher

	mu   sync.Mutex
	sent []published
	now  time.Time

	service *Service
}

func TestIngestionSuite(t *testing.T) {
	suite.Run(t, new(IngestionTestSuite))
}

func (suite *IngestionTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.store = newMemoryStore(
		types.Symbol{Symbol: "BTCUSDT", PrecisionPrice: 2, PrecisionQty: 3, Status: types.SymbolStatusEnabled},
		types.Symbol{Symbol: "ETHUSDT", PrecisionPrice: 2, PrecisionQty: 3, Status: types.SymbolStatusDisabled},
	)
	suite.publisher = mocks.NewMockPublisher(suite.ctrl)
	suite.scratchpad = mocks.NewMockScratchpad(suite.ctrl)
	suite.feed = mocks.NewMockFeed(suite.ctrl)
	suite.fetcher = mocks.NewMockKlineFetcher(suite.ctrl)
	suite.sent = nil
	suite.now = time.Date(2024, 3, 1, 12, 4, 20, 0, time.UTC)

	suite.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, channel string, payload any) error {
			suite.mu.Lock()
			defer suite.mu.Unlock()

			suite.sent = append(suite.sent, published{channel: channel, payload: payload})

			return nil
		}).AnyTimes()

	opts := DefaultOptions()
	opts.ReconnectInitial = time.Millisecond
	opts.ReconnectMax = 5 * time.Millisecond
	opts.ErrorDelay = time.Millisecond
	opts.MarkPriceInterval = time.Hour
	opts.Now = func() time.Time {
		suite.mu.Lock()
		defer suite.mu.Unlock()

		return suite.now
	}

	suite.service = New(suite.store, suite.publisher, suite.scratchpad, suite.feed, suite.fetcher, opts, logger.NewNopLogger())
}

func (suite *IngestionTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *IngestionTestSuite) setNow(t time.Time) {
	suite.mu.Lock()
	defer suite.mu.Unlock()

	suite.now = t
}

func (suite *IngestionTestSuite) messages() []published {
	suite.mu.Lock()
	defer suite.mu.Unlock()

	out := make([]published, len(suite.sent))
	copy(out, suite.sent)

	return out
}

func (suite *IngestionTestSuite) channels() []string {
	var out []string
	for _, m := range suite.messages() {
		out = append(out, m.channel)
	}

	return out
}

func (suite *IngestionTestSuite) minutes(start time.Time, count int) []types.Bar {
	config := mocks.DefaultConfig()
	config.StartTime = start
	config.Count = count

	return mocks.NewBarGenerator(7).Generate(config)
}

func blockingBars(ctx context.Context) iter.Seq2[types.Bar, error] {
	return func(func(types.Bar, error) bool) { <-ctx.Done() }
}

func blockingPrices(ctx context.Context) iter.Seq2[types.MarkPrice, error] {
	return func(func(types.MarkPrice, error) bool) { <-ctx.Done() }
}

func (suite *IngestionTestSuite) expectIdleFeeds() {
	suite.feed.EXPECT().Klines(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) iter.Seq2[types.Bar, error] { return blockingBars(ctx) }).
		AnyTimes()
	suite.feed.EXPECT().MarkPrices(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) iter.Seq2[types.MarkPrice, error] { return blockingPrices(ctx) }).
		AnyTimes()
}

func (suite *IngestionTestSuite) TestHandleBarPublishesAggregates() {
	openTime := time.Date(2024, 3, 1, 12, 59, 0, 0, time.UTC)
	bar := suite.minutes(openTime, 1)[0]
	bar.Symbol = "btcusdt.p"

	suite.Require().NoError(suite.service.HandleBar(context.Background(), bar))

	_, ok := suite.store.bar("BTCUSDT", types.TimeframeM1, openTime)
	suite.True(ok)

	msgs := suite.messages()
	suite.Require().Len(msgs, 5)
	suite.Equal(bus.ChannelM1Ready, msgs[0].channel)
	suite.Equal(types.BarReady{Symbol: "BTCUSDT", Timeframe: types.TimeframeM1, OpenTime: openTime}, msgs[0].payload)

	var intervals []types.Timeframe

	for _, m := range msgs[1:] {
		suite.Equal(bus.ChannelAggregate, m.channel)

		req, ok := m.payload.(types.AggregateRequest)
		suite.Require().True(ok)
		suite.Equal(openTime, req.Until)
		intervals = append(intervals, req.Interval)
	}

	suite.Equal([]types.Timeframe{types.TimeframeM5, types.TimeframeM15, types.TimeframeM30, types.TimeframeH1}, intervals)
}

func (suite *IngestionTestSuite) TestHandleBarMidWindow() {
	bar := suite.minutes(time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC), 1)[0]

	suite.Require().NoError(suite.service.HandleBar(context.Background(), bar))
	suite.Equal([]string{bus.ChannelM1Ready}, suite.channels())
}

func (suite *IngestionTestSuite) TestGapRepairThenReaggregation() {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bars := suite.minutes(start, 5)

	for _, b := range bars {
		suite.Require().NoError(suite.store.UpsertBar(ctx, b))
	}

	missing := start.Add(3 * time.Minute)
	suite.store.delete("BTCUSDT", types.TimeframeM1, missing)
	suite.service.active["BTCUSDT"] = func() {}

	recorded, err := suite.service.CheckMissing(ctx)
	suite.Require().NoError(err)
	suite.Equal(1, recorded)

	row, ok := suite.store.missingRow("BTCUSDT", missing)
	suite.Require().True(ok)
	suite.False(row.Fixed)

	// a second pass does not record it twice
	recorded, err = suite.service.CheckMissing(ctx)
	suite.NoError(err)
	suite.Equal(0, recorded)

	repairedBar := bars[3]
	repairedBar.Source = types.BarSourceAPI

	suite.fetcher.EXPECT().
		FetchKlines(gomock.Any(), "BTCUSDT", "1m", missing, missing.Add(time.Minute-time.Millisecond), 1).
		Return([]types.Bar{repairedBar}, nil)

	suite.setNow(time.Date(2024, 3, 1, 12, 6, 0, 0, time.UTC))

	repaired, err := suite.service.RepairMissing(ctx)
	suite.Require().NoError(err)
	suite.Equal(1, repaired)

	got, ok := suite.store.bar("BTCUSDT", types.TimeframeM1, missing)
	suite.Require().True(ok)
	suite.Equal(types.BarSourceAPI, got.Source)

	row, _ = suite.store.missingRow("BTCUSDT", missing)
	suite.True(row.Fixed)
	suite.NotNil(row.FixedAt)

	// replay the aggregation requests through the aggregator
	agg := aggregator.New(suite.store, suite.publisher, logger.NewNopLogger())

	requests := 0

	for _, m := range suite.messages() {
		if m.channel != bus.ChannelAggregate {
			continue
		}

		requests++
		suite.Require().NoError(agg.Handle(ctx, m.payload.(types.AggregateRequest)))
	}

	suite.Equal(1, requests)
	suite.Contains(suite.channels(), "ohlcv_m5_ready")

	m5, ok := suite.store.bar("BTCUSDT", types.TimeframeM5, start)
	suite.Require().True(ok)
	suite.True(m5.Open.Equal(bars[0].Open))
	suite.True(m5.Close.Equal(bars[4].Close))

	high, low, volume := bars[0].High, bars[0].Low, decimal.Zero
	for _, b := range bars {
		if b.High.GreaterThan(high) {
			high = b.High
		}

		if b.Low.LessThan(low) {
			low = b.Low
		}

		volume = volume.Add(b.Volume)
	}

	suite.True(m5.High.Equal(high))
	suite.True(m5.Low.Equal(low))
	suite.True(m5.Volume.Equal(volume))
}

func (suite *IngestionTestSuite) TestRepairLeavesUnservedRows() {
	ctx := context.Background()
	missing := time.Date(2024, 3, 1, 12, 3, 0, 0, time.UTC)

	_, err := suite.store.RecordMissing(ctx, "BTCUSDT", missing)
	suite.Require().NoError(err)

	suite.fetcher.EXPECT().
		FetchKlines(gomock.Any(), "BTCUSDT", "1m", gomock.Any(), gomock.Any(), 1).
		Return(nil, nil)

	repaired, err := suite.service.RepairMissing(ctx)
	suite.NoError(err)
	suite.Equal(0, repaired)

	row, _ := suite.store.missingRow("BTCUSDT", missing)
	suite.False(row.Fixed)
	suite.Empty(suite.messages())
}

func (suite *IngestionTestSuite) TestRepairFetchFailureIsContained() {
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 12, 3, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	_, _ = suite.store.RecordMissing(ctx, "BTCUSDT", first)
	_, _ = suite.store.RecordMissing(ctx, "BTCUSDT", second)

	bar := suite.minutes(second, 1)[0]

	gomock.InOrder(
		suite.fetcher.EXPECT().
			FetchKlines(gomock.Any(), "BTCUSDT", "1m", first, gomock.Any(), 1).
			Return(nil, errors.New(errors.ErrCodeHistoricalFetch, "502 bad gateway")),
		suite.fetcher.EXPECT().
			FetchKlines(gomock.Any(), "BTCUSDT", "1m", second, gomock.Any(), 1).
			Return([]types.Bar{bar}, nil),
	)

	repaired, err := suite.service.RepairMissing(ctx)
	suite.NoError(err)
	suite.Equal(1, repaired)
}

func (suite *IngestionTestSuite) TestMarkPricesAreCoalesced() {
	suite.service.opts.MarkPriceInterval = 50 * time.Millisecond

	prices := func(yield func(types.MarkPrice, error) bool) {
		for _, p := range []string{"100.5", "100.6", "100.7"} {
			if !yield(types.MarkPrice{Symbol: "BTCUSDT", Price: types.MustDecimal(p), Time: suite.now}, nil) {
				return
			}
		}
	}

	var (
		mu      sync.Mutex
		written []string
		stamps  []time.Time
	)

	suite.feed.EXPECT().MarkPrices(gomock.Any(), "BTCUSDT").Return(iter.Seq2[types.MarkPrice, error](prices))
	suite.scratchpad.EXPECT().SetKey(gomock.Any(), "price:BTCUSDT", gomock.Any(), time.Duration(0)).
		DoAndReturn(func(_ context.Context, _ string, value string, _ time.Duration) error {
			mu.Lock()
			defer mu.Unlock()

			written = append(written, value)
			stamps = append(stamps, time.Now())

			return nil
		}).MinTimes(1).MaxTimes(2)

	received, err := suite.service.consumeMarkPrices(context.Background(), "BTCUSDT")
	suite.NoError(err)
	suite.True(received)

	mu.Lock()
	defer mu.Unlock()

	suite.Require().NotEmpty(written)
	suite.Equal("100.7", written[len(written)-1], "the latest price is written once the window ends")

	if len(stamps) == 2 {
		suite.GreaterOrEqual(stamps[1].Sub(stamps[0]), 40*time.Millisecond)
	}
}

func (suite *IngestionTestSuite) TestMarkPriceWriterFlushesAfterQuietFeed() {
	limiter := rate.NewLimiter(rate.Every(30*time.Millisecond), 1)

	var mu sync.Mutex
	var written []string

	w := newPriceWriter(limiter, func(_ context.Context, price string) {
		mu.Lock()
		defer mu.Unlock()

		written = append(written, price)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)
		w.run(ctx)
	}()

	w.offer("100.5")
	suite.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(written) == 1
	}, time.Second, 5*time.Millisecond)

	w.offer("100.6")
	w.offer("100.7")

	suite.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(written) == 2 && written[1] == "100.7"
	}, time.Second, 5*time.Millisecond)

	w.close()
	<-done

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]string{"100.5", "100.7"}, written)
}

func (suite *IngestionTestSuite) TestKlinesReconnectAfterClose() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bars := suite.minutes(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 2)

	first := func(yield func(types.Bar, error) bool) {
		if !yield(bars[0], nil) {
			return
		}

		yield(types.Bar{}, errors.New(errors.ErrCodeUpstreamClosed, "connection reset"))
	}

	gomock.InOrder(
		suite.feed.EXPECT().Klines(gomock.Any(), "BTCUSDT").Return(iter.Seq2[types.Bar, error](first)),
		suite.feed.EXPECT().Klines(gomock.Any(), "BTCUSDT").
			DoAndReturn(func(ctx context.Context, _ string) iter.Seq2[types.Bar, error] {
				return func(yield func(types.Bar, error) bool) {
					if yield(bars[1], nil) {
						<-ctx.Done()
					}
				}
			}),
	)

	done := make(chan struct{})

	go func() {
		defer close(done)
		suite.service.runKlines(ctx, "BTCUSDT")
	}()

	suite.Eventually(func() bool {
		_, ok := suite.store.bar("BTCUSDT", types.TimeframeM1, bars[1].OpenTime)

		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		suite.Fail("kline task did not stop")
	}

	_, ok := suite.store.bar("BTCUSDT", types.TimeframeM1, bars[0].OpenTime)
	suite.True(ok)
}

type scriptedSubscriber struct {
	messages []bus.Message
}

func (s *scriptedSubscriber) Listen(ctx context.Context, handler bus.MessageHandler, _ ...string) error {
	for _, m := range s.messages {
		_ = handler(ctx, m)
	}

	<-ctx.Done()

	return nil
}

func (suite *IngestionTestSuite) TestRunReconcilesAndFollowsActivations() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.expectIdleFeeds()
	suite.fetcher.EXPECT().FetchKlines(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).AnyTimes()

	sub := &scriptedSubscriber{messages: []bus.Message{
		{Channel: bus.ChannelTickerActivation, Payload: []byte(`{"symbol":"ethusdt","status":"enabled"}`)},
		{Channel: bus.ChannelTickerActivation, Payload: []byte(`not json`)},
	}}

	done := make(chan error, 1)

	go func() { done <- suite.service.Run(ctx, sub) }()

	suite.Eventually(func() bool {
		active := suite.service.ActiveSymbols()

		return len(active) == 2 && active[0] == "BTCUSDT" && active[1] == "ETHUSDT"
	}, time.Second, 5*time.Millisecond)

	suite.service.Stop("btcusdt")
	suite.Equal([]string{"ETHUSDT"}, suite.service.ActiveSymbols())

	cancel()

	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(2 * time.Second):
		suite.Fail("service did not stop")
	}

	suite.Empty(suite.service.ActiveSymbols())
}

func (suite *IngestionTestSuite) TestStartBeforeRunIsIgnored() {
	suite.False(suite.service.Start("BTCUSDT"))
	suite.Empty(suite.service.ActiveSymbols())
}
