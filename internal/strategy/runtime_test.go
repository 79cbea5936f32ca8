package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/mocks"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type RuntimeTestSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	store      *memoryStore
	indicators *staticIndicators
	publisher  *mocks.MockPublisher
	handoff    chan types.Position
	runtime    *Runtime
	now        time.Time
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeTestSuite))
}

func (suite *RuntimeTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.publisher = mocks.NewMockPublisher(suite.ctrl)
	suite.now = time.Date(2024, 3, 1, 12, 5, 7, 0, time.UTC)

	suite.store = &memoryStore{
		strategies: map[int64]types.Strategy{
			10: {
				ID:            10,
				Deposit:       decimal.NewFromInt(1000),
				PositionLimit: decimal.NewFromInt(100),
				Timeframe:     types.TimeframeM5,
				Enabled:       true,
				AllowOpen:     true,
				Tickers:       []string{"BTCUSDT"},
				TpLevels: []types.StrategyTpLevel{
					{Level: 2, TpType: types.TpTypePercent, TpValue: decimal.NewFromInt(3), VolumePercent: decimal.NewFromInt(50)},
					{Level: 1, TpType: types.TpTypeATR, TpValue: decimal.NewFromInt(1), VolumePercent: decimal.NewFromInt(50)},
				},
			},
		},
		symbols: map[string]types.Symbol{
			"BTCUSDT": {
				Symbol:          "BTCUSDT",
				PrecisionPrice:  2,
				PrecisionQty:    3,
				MinQty:          decimal.RequireFromString("0.001"),
				Status:          types.SymbolStatusEnabled,
				TradePermission: types.SymbolStatusEnabled,
			},
			"ETHUSDT": {
				Symbol:          "ETHUSDT",
				PrecisionPrice:  2,
				PrecisionQty:    3,
				Status:          types.SymbolStatusEnabled,
				TradePermission: types.SymbolStatusDisabled,
			},
		},
	}

	suite.indicators = &staticIndicators{
		values: map[string]decimal.Decimal{},
		prices: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100)},
	}
	suite.indicators.set("BTCUSDT", types.TimeframeM5, types.IndicatorKindATR, ATRParam, "2")

	opts := DefaultOptions()
	opts.Now = func() time.Time { return suite.now }
	suite.runtime = New(suite.store, suite.indicators, DefaultEvaluators(), suite.publisher, opts, logger.NewNopLogger())

	suite.handoff = make(chan types.Position, 1)
	suite.runtime.HandOff(suite.handoff)
}

func (suite *RuntimeTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *RuntimeTestSuite) task(direction types.Direction) types.StrategyTask {
	return types.StrategyTask{
		StrategyID: 10,
		Symbol:     "BTCUSDT",
		Direction:  direction,
		BarTime:    suite.now.Truncate(time.Minute),
		ReceivedAt: suite.now,
		LogID:      7,
	}
}

func (suite *RuntimeTestSuite) entry(task types.StrategyTask) bus.StreamMessage {
	raw, err := json.Marshal(task)
	suite.Require().NoError(err)

	return bus.StreamMessage{Stream: bus.StreamStrategyTasks, ID: "1-0", Values: map[string]string{bus.PayloadField: string(raw)}}
}

func (suite *RuntimeTestSuite) expectOpened() {
	suite.publisher.EXPECT().Publish(gomock.Any(), bus.ChannelPositionOpened, gomock.Any()).Return(nil)
}

func (suite *RuntimeTestSuite) requireDecimal(want string, got decimal.Decimal) {
	suite.T().Helper()
	suite.True(decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func (suite *RuntimeTestSuite) TestOpensLongPosition() {
	suite.expectOpened()

	out, err := suite.runtime.Process(context.Background(), suite.task(types.DirectionLong))
	suite.Require().NoError(err)
	suite.Require().Equal(types.EntryStatusOpened, out.Status)

	pos := out.Position
	suite.requireDecimal("100", pos.EntryPrice)
	suite.requireDecimal("1", pos.Quantity)
	suite.requireDecimal("1", pos.QuantityLeft)
	suite.requireDecimal("100", pos.NotionalValue)
	suite.requireDecimal("3", pos.PlannedRisk)
	suite.requireDecimal("2", pos.EntryATR)
	suite.Equal(types.PositionStatusOpen, pos.Status)
	suite.Equal(int64(7), pos.LogID)

	suite.Require().Len(pos.Targets, 3)

	tp1, tp2, sl := pos.Targets[0], pos.Targets[1], pos.Targets[2]
	suite.Equal(1, tp1.Level)
	suite.requireDecimal("102", tp1.Price.Decimal)
	suite.requireDecimal("0.5", tp1.Quantity)
	suite.Equal(2, tp2.Level)
	suite.requireDecimal("103", tp2.Price.Decimal)
	suite.requireDecimal("0.5", tp2.Quantity)
	suite.Equal(types.TargetTypeSL, sl.Type)
	suite.requireDecimal("97", sl.Price.Decimal)
	suite.requireDecimal("1", sl.Quantity)

	suite.Require().Len(suite.store.systemLogs, 1)
	suite.Equal(types.SystemActionPositionOpened, suite.store.systemLogs[0].Action)
	suite.Equal(int64(7), *suite.store.systemLogs[0].LogID)

	select {
	case handed := <-suite.handoff:
		suite.Equal(pos.ID, handed.ID)
	default:
		suite.Fail("position was not handed to the follower")
	}
}

func (suite *RuntimeTestSuite) TestOpensShortPosition() {
	suite.expectOpened()

	out, err := suite.runtime.Process(context.Background(), suite.task(types.DirectionShort))
	suite.Require().NoError(err)
	suite.Require().Equal(types.EntryStatusOpened, out.Status)

	targets := out.Position.Targets
	suite.requireDecimal("98", targets[0].Price.Decimal)
	suite.requireDecimal("97", targets[1].Price.Decimal)
	suite.requireDecimal("103", targets[2].Price.Decimal)
}

func (suite *RuntimeTestSuite) TestAdmissionChecks() {
	tests := []struct {
		name   string
		mutate func(s *types.Strategy, task *types.StrategyTask)
		note   string
	}{
		{name: "unknown strategy", mutate: func(_ *types.Strategy, task *types.StrategyTask) { task.StrategyID = 99 }, note: NoteStrategyNotFound},
		{name: "disabled", mutate: func(s *types.Strategy, _ *types.StrategyTask) { s.Enabled = false }, note: NoteStrategyDisabled},
		{name: "archived", mutate: func(s *types.Strategy, _ *types.StrategyTask) { s.Archived = true }, note: NoteStrategyArchived},
		{name: "opening not allowed", mutate: func(s *types.Strategy, _ *types.StrategyTask) { s.AllowOpen = false }, note: NoteOpeningNotAllowed},
		{name: "unknown symbol", mutate: func(_ *types.Strategy, task *types.StrategyTask) { task.Symbol = "DOGEUSDT" }, note: NoteSymbolNotFound},
		{name: "trading disabled", mutate: func(s *types.Strategy, task *types.StrategyTask) {
			s.UseAllTickers = true
			task.Symbol = "ETHUSDT"
		}, note: NoteSymbolNotTradable},
		{name: "ticker not in set", mutate: func(s *types.Strategy, _ *types.StrategyTask) { s.Tickers = []string{"ETHUSDT"} }, note: NoteSymbolNotPermitted},
		{name: "below min qty", mutate: func(s *types.Strategy, _ *types.StrategyTask) { s.PositionLimit = decimal.RequireFromString("0.05") }, note: NoteBelowMinQty},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			s := suite.store.strategies[10]
			s.Tickers = []string{"BTCUSDT"}
			task := suite.task(types.DirectionLong)
			tc.mutate(&s, &task)

			saved := suite.store.strategies[10]
			suite.store.strategies[10] = s
			defer func() { suite.store.strategies[10] = saved }()

			out, err := suite.runtime.Process(context.Background(), task)
			suite.Require().NoError(err)
			suite.Equal(types.EntryStatusIgnoredByCheck, out.Status)
			suite.Equal(tc.note, out.Note)
		})
	}

	suite.Empty(suite.store.positions)
}

func (suite *RuntimeTestSuite) TestOnePositionPerSymbol() {
	suite.store.positions = []types.Position{
		{ID: 1, StrategyID: 10, Symbol: "BTCUSDT", Status: types.PositionStatusPartial, NotionalValue: decimal.NewFromInt(50)},
	}

	out, err := suite.runtime.Process(context.Background(), suite.task(types.DirectionLong))
	suite.Require().NoError(err)
	suite.Equal(types.EntryStatusIgnoredByCheck, out.Status)
	suite.Equal(NotePositionOpen, out.Note)
}

func (suite *RuntimeTestSuite) TestDepositLimit() {
	suite.store.positions = []types.Position{
		{ID: 1, StrategyID: 10, Symbol: "ETHUSDT", Status: types.PositionStatusOpen, NotionalValue: decimal.NewFromInt(950)},
	}

	err := suite.runtime.HandleTask(context.Background(), suite.entry(suite.task(types.DirectionLong)))
	suite.Require().NoError(err)

	suite.Require().Len(suite.store.entries, 1)
	entry := suite.store.entries[0]
	suite.Equal(int64(7), entry.LogID)
	suite.Equal(int64(10), entry.StrategyID)
	suite.Equal(types.EntryStatusIgnoredByCheck, entry.Status)
	suite.Equal("deposit limit exceeded", entry.Note)
	suite.Len(suite.store.positions, 1)
}

func (suite *RuntimeTestSuite) TestDepositLimitIsInclusive() {
	suite.store.positions = []types.Position{
		{ID: 1, StrategyID: 10, Symbol: "ETHUSDT", Status: types.PositionStatusOpen, NotionalValue: decimal.NewFromInt(900)},
		{ID: 2, StrategyID: 10, Symbol: "SOLUSDT", Status: types.PositionStatusClosed, NotionalValue: decimal.NewFromInt(900)},
	}
	suite.expectOpened()

	out, err := suite.runtime.Process(context.Background(), suite.task(types.DirectionLong))
	suite.Require().NoError(err)
	suite.Equal(types.EntryStatusOpened, out.Status)
}

func (suite *RuntimeTestSuite) TestFilterRejections() {
	tests := []struct {
		name  string
		setup func()
	}{
		{name: "no price", setup: func() { delete(suite.indicators.prices, "BTCUSDT") }},
		{name: "no atr", setup: func() { suite.indicators.values = map[string]decimal.Decimal{} }},
		{name: "trend filter", setup: func() {
			s := suite.store.strategies[10]
			s.Evaluator = "ema_atr_trend"
			suite.store.strategies[10] = s
			suite.indicators.set("BTCUSDT", types.TimeframeM5, types.IndicatorKindEMA, EMAParam, "99.5")
		}},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.SetupTest()
			tc.setup()

			err := suite.runtime.HandleTask(context.Background(), suite.entry(suite.task(types.DirectionLong)))
			suite.Require().NoError(err)
			suite.Require().Len(suite.store.entries, 1)
			suite.Equal(types.EntryStatusIgnoredByFilter, suite.store.entries[0].Status)
			suite.Empty(suite.store.positions)
		})
	}
}

func (suite *RuntimeTestSuite) TestUnknownEvaluator() {
	s := suite.store.strategies[10]
	s.Evaluator = "martingale"
	suite.store.strategies[10] = s

	out, err := suite.runtime.Process(context.Background(), suite.task(types.DirectionLong))
	suite.Require().NoError(err)
	suite.Equal(types.EntryStatusError, out.Status)
}

func (suite *RuntimeTestSuite) TestExternalSignalTarget() {
	s := suite.store.strategies[10]
	s.Reverse = true
	s.TpLevels = []types.StrategyTpLevel{
		{Level: 1, TpType: types.TpTypeATR, TpValue: decimal.NewFromInt(1), VolumePercent: decimal.NewFromInt(30)},
		{Level: 2, TpType: types.TpTypeExternalSignal, VolumePercent: decimal.NewFromInt(100)},
	}
	suite.store.strategies[10] = s
	suite.expectOpened()

	out, err := suite.runtime.Process(context.Background(), suite.task(types.DirectionLong))
	suite.Require().NoError(err)

	targets := out.Position.Targets
	suite.Require().Len(targets, 3)
	suite.requireDecimal("0.3", targets[0].Quantity)

	signal := targets[1]
	suite.Equal(types.TriggerTypeSignal, signal.TriggerType)
	suite.Equal(types.ActionTriggerSentinel, signal.TriggerSignal)
	suite.False(signal.Price.Valid)
	suite.requireDecimal("0.7", signal.Quantity)
}

func (suite *RuntimeTestSuite) TestTransientFailureLeavesTaskPending() {
	suite.store.createErr = errors.New(errors.ErrCodeStoreTransient, "connection reset")

	err := suite.runtime.HandleTask(context.Background(), suite.entry(suite.task(types.DirectionLong)))
	suite.Error(err)
	suite.True(errors.IsRetryable(err))
	suite.Empty(suite.store.entries)
}

func (suite *RuntimeTestSuite) TestTaskWithoutLogID() {
	suite.expectOpened()

	task := suite.task(types.DirectionLong)
	task.LogID = 0

	suite.Require().NoError(suite.runtime.HandleTask(context.Background(), suite.entry(task)))
	suite.Empty(suite.store.entries)
	suite.Len(suite.store.positions, 1)
	suite.Nil(suite.store.systemLogs[0].LogID)
}

func (suite *RuntimeTestSuite) TestMalformedTaskIsAcked() {
	msg := bus.StreamMessage{Stream: bus.StreamStrategyTasks, ID: "1-0", Values: map[string]string{bus.PayloadField: "{"}}

	suite.NoError(suite.runtime.HandleTask(context.Background(), msg))
	suite.Empty(suite.store.entries)
}

func (suite *RuntimeTestSuite) TestHandleClose() {
	closed := types.PositionClosed{
		PositionID: 3,
		StrategyID: 10,
		Symbol:     "BTCUSDT",
		Reason:     types.CloseReasonSLTP,
		ExitPrice:  decimal.NewFromInt(100),
		PnL:        decimal.RequireFromString("7.5"),
		ClosedAt:   suite.now,
	}

	raw, err := json.Marshal(closed)
	suite.Require().NoError(err)

	msg := bus.StreamMessage{Stream: bus.StreamPositionClose, ID: "1-0", Values: map[string]string{bus.PayloadField: string(raw)}}
	suite.Require().NoError(suite.runtime.HandleClose(context.Background(), msg))

	suite.Require().Len(suite.store.systemLogs, 1)
	log := suite.store.systemLogs[0]
	suite.Equal(types.SystemActionPositionClosed, log.Action)
	suite.Equal(int64(3), *log.PositionID)
	suite.Contains(log.Message, "sl-tp-hit")
	suite.Contains(log.Message, "7.5")
}
