package follower

import (
	"context"
	"encoding/json"
	"sync"
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

type memoryStore struct {
	mu         sync.Mutex
	positions  map[int64]types.Position
	strategies map[int64]types.Strategy
	symbols    map[string]types.Symbol
	changes    []types.PositionChange
	systemLogs []types.SystemLog
	applyErr   error
	nextID     int64
	onList     func()
}

func (m *memoryStore) ListOpenPositions(context.Context) ([]types.Position, error) {
	if m.onList != nil {
		m.onList()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Position

	for _, p := range m.positions {
		if p.IsOpen() {
			out = append(out, *p.Clone())
		}
	}

	return out, nil
}

func (m *memoryStore) GetPosition(_ context.Context, id int64) (types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok {
		return types.Position{}, errors.Newf(errors.ErrCodePositionNotFound, "position %d not found", id)
	}

	return *p.Clone(), nil
}

func (m *memoryStore) GetStrategy(_ context.Context, id int64) (types.Strategy, error) {
	s, ok := m.strategies[id]
	if !ok {
		return types.Strategy{}, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %d not found", id)
	}

	return s, nil
}

func (m *memoryStore) GetSymbol(_ context.Context, symbol string) (types.Symbol, error) {
	s, ok := m.symbols[symbol]
	if !ok {
		return types.Symbol{}, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s not found", symbol)
	}

	return s, nil
}

func (m *memoryStore) ApplyPositionChange(_ context.Context, change *types.PositionChange) error {
	if m.applyErr != nil {
		return m.applyErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.positions[change.Position.ID]
	if !ok || !current.IsOpen() {
		return errors.Newf(errors.ErrCodePositionNotFound, "position %d is not open", change.Position.ID)
	}

	for _, id := range change.HitTargetIDs {
		for _, t := range current.Targets {
			if t.ID == id && t.Hit {
				return errors.Newf(errors.ErrCodePositionConflict, "target %d already hit", id)
			}
		}
	}

	for i := range change.NewTargets {
		m.nextID++
		change.NewTargets[i].ID = m.nextID
	}

	pos := change.Position
	pos.Targets = append(pos.Targets, change.NewTargets...)
	m.positions[pos.ID] = *pos.Clone()
	m.changes = append(m.changes, *change)

	return nil
}

func (m *memoryStore) InsertSystemLog(_ context.Context, entry types.SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systemLogs = append(m.systemLogs, entry)

	return nil
}

type priceBoard struct {
	prices map[string]decimal.Decimal
}

func (p *priceBoard) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	v, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, errors.Newf(errors.ErrCodePriceUnavailable, "no price for %s", symbol)
	}

	return v, nil
}

type FollowerTestSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *memoryStore
	prices   *priceBoard
	closes   *mocks.MockStreamWriter
	follower *Follower
}

func TestFollowerSuite(t *testing.T) {
	suite.Run(t, new(FollowerTestSuite))
}

func (suite *FollowerTestSuite) SetupTest() {
	suite.ctrl = gomock.NewController(suite.T())
	suite.closes = mocks.NewMockStreamWriter(suite.ctrl)

	t := ladder(types.DirectionLong)
	suite.store = &memoryStore{
		positions:  map[int64]types.Position{1: *t.Position},
		strategies: map[int64]types.Strategy{10: t.Strategy},
		symbols:    map[string]types.Symbol{"BTCUSDT": t.Symbol},
		nextID:     100,
	}
	suite.prices = &priceBoard{prices: map[string]decimal.Decimal{}}

	opts := DefaultOptions()
	opts.Commission = decimal.Zero
	opts.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	suite.follower = New(suite.store, suite.prices, suite.closes, opts, logger.NewNopLogger())

	suite.Require().NoError(suite.follower.Refresh(context.Background()))
}

func (suite *FollowerTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *FollowerTestSuite) tick(price string) {
	suite.prices.prices["BTCUSDT"] = d(price)
	suite.Require().NoError(suite.follower.Tick(context.Background()))
}

func (suite *FollowerTestSuite) TestTicksUntilClose() {
	var announced types.PositionClosed

	suite.closes.EXPECT().Append(gomock.Any(), bus.StreamPositionClose, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, payload any) (string, error) {
			announced = payload.(types.PositionClosed)

			return "1-0", nil
		})

	suite.tick("101.40")
	suite.tick("101.60")

	pos, ok := suite.follower.Get(1)
	suite.Require().True(ok)
	suite.True(d("5").Equal(pos.QuantityLeft))

	sl, _ := pos.ActiveSL()
	suite.Equal(int64(101), sl.ID, "new stop carries the stored id")

	suite.tick("99.95")

	suite.Zero(suite.follower.Len())
	suite.Equal(types.PositionStatusClosed, suite.store.positions[1].Status)
	suite.Len(suite.store.changes, 2)

	suite.Equal(int64(1), announced.PositionID)
	suite.Equal(types.CloseReasonSLTP, announced.Reason)
	suite.True(d("7.5").Equal(announced.PnL))
	suite.True(d("100").Equal(announced.ExitPrice))
}

func (suite *FollowerTestSuite) TestFailedWriteIsRetried() {
	suite.store.applyErr = errors.New(errors.ErrCodeStoreTransient, "connection reset")
	suite.tick("101.60")

	pos, _ := suite.follower.Get(1)
	suite.True(d("10").Equal(pos.QuantityLeft))

	suite.store.applyErr = nil
	suite.tick("101.60")

	pos, _ = suite.follower.Get(1)
	suite.True(d("5").Equal(pos.QuantityLeft))
}

func (suite *FollowerTestSuite) TestMissingPriceSkipsPosition() {
	suite.Require().NoError(suite.follower.Tick(context.Background()))
	suite.Empty(suite.store.changes)
	suite.Equal(1, suite.follower.Len())
}

func (suite *FollowerTestSuite) TestRefreshDropsClosedPositions() {
	pos := suite.store.positions[1]
	pos.Status = types.PositionStatusClosed
	suite.store.positions[1] = pos

	suite.Require().NoError(suite.follower.Refresh(context.Background()))
	suite.Zero(suite.follower.Len())
}

func (suite *FollowerTestSuite) TestPositionClosedElsewhere() {
	pos := suite.store.positions[1]
	pos.Status = types.PositionStatusClosed
	suite.store.positions[1] = pos

	suite.tick("101.60")
	suite.Zero(suite.follower.Len())
}

func (suite *FollowerTestSuite) TestDomainFaultClosesPosition() {
	pos := suite.store.positions[1]
	pos.Targets = append(pos.Targets, priceTarget(15, types.TargetTypeSL, 0, "99", "10"))
	suite.store.positions[1] = pos
	suite.Require().NoError(suite.follower.Refresh(context.Background()))

	suite.closes.EXPECT().Append(gomock.Any(), bus.StreamPositionClose, gomock.Any()).Return("1-0", nil)

	suite.tick("100.5")

	suite.Zero(suite.follower.Len())
	suite.Equal(types.CloseReasonFault, suite.store.positions[1].CloseReason)
	suite.Require().Len(suite.store.systemLogs, 1)
	suite.Equal(types.ActionFlagAudit, suite.store.systemLogs[0].ActionFlag)
	suite.Equal(types.SystemActionDomainFault, suite.store.systemLogs[0].Action)
}

func (suite *FollowerTestSuite) TestExitSignal() {
	pos := suite.store.positions[1]
	pos.Targets[2] = types.PositionTarget{
		ID:            13,
		PositionID:    1,
		Type:          types.TargetTypeTP,
		Level:         3,
		Quantity:      d("2"),
		TriggerType:   types.TriggerTypeSignal,
		TriggerSignal: types.ActionTriggerSentinel,
	}
	suite.store.positions[1] = pos
	suite.Require().NoError(suite.follower.Refresh(context.Background()))
	suite.prices.prices["BTCUSDT"] = d("100.8")

	exit := types.ExitSignal{
		Phrase:     types.ActionTriggerSentinel,
		Symbol:     "BTCUSDT",
		Direction:  types.DirectionLong,
		Strategies: []int64{10},
	}

	raw, err := json.Marshal(exit)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.follower.HandleMessage(context.Background(), bus.Message{Channel: bus.ChannelExitSignals, Payload: raw}))

	got, _ := suite.follower.Get(1)
	suite.Equal("tp-3-hit", got.CloseReason)
	suite.True(d("8").Equal(got.QuantityLeft))
	suite.True(d("1.6").Equal(got.PnL))

	other := exit
	other.Strategies = []int64{11}
	suite.Require().NoError(suite.follower.Exit(context.Background(), other))
	suite.Len(suite.store.changes, 1)
}

func (suite *FollowerTestSuite) TestPositionOpenedNotification() {
	opened := ladder(types.DirectionShort).Position
	opened.ID = 2
	suite.store.positions[2] = *opened

	raw, err := json.Marshal(types.PositionOpened{Position: *opened})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.follower.HandleMessage(context.Background(), bus.Message{Channel: bus.ChannelPositionOpened, Payload: raw}))

	suite.Equal(2, suite.follower.Len())
}

func (suite *FollowerTestSuite) TestShard() {
	owned := 0

	for id := int64(1); id <= 100; id++ {
		a := Shard{Index: 0, Count: 2}.Owns(id)
		b := Shard{Index: 1, Count: 2}.Owns(id)
		suite.NotEqual(a, b, "position %d", id)

		if a {
			owned++
		}
	}

	suite.Greater(owned, 0)
	suite.Less(owned, 100)

	tests := []struct {
		in    string
		want  Shard
		valid bool
	}{
		{in: "", want: Shard{Index: 0, Count: 1}, valid: true},
		{in: "1/4", want: Shard{Index: 1, Count: 4}, valid: true},
		{in: "4/4"},
		{in: "x/2"},
		{in: "2"},
	}

	for _, tc := range tests {
		got, err := ParseShard(tc.in)
		if tc.valid {
			suite.Require().NoError(err)
			suite.Equal(tc.want, got)
		} else {
			suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter), tc.in)
		}
	}
}

func (suite *FollowerTestSuite) storedLiveSLs() int {
	pos := suite.store.positions[1]

	return pos.ActiveSLCount()
}

func (suite *FollowerTestSuite) TestTickDuringRefreshDoesNotRefireTarget() {
	suite.prices.prices["BTCUSDT"] = d("101.60")

	done := make(chan error, 1)
	suite.store.onList = func() {
		suite.store.onList = nil

		go func() { done <- suite.follower.Tick(context.Background()) }()
	}

	suite.Require().NoError(suite.follower.Refresh(context.Background()))
	suite.Require().NoError(<-done)

	suite.tick("101.60")
	suite.Require().NoError(suite.follower.Refresh(context.Background()))
	suite.tick("101.60")

	suite.Len(suite.store.changes, 1)
	suite.Equal(1, suite.storedLiveSLs())
	suite.True(d("5").Equal(suite.store.positions[1].QuantityLeft))

	pos, ok := suite.follower.Get(1)
	suite.Require().True(ok)
	suite.Equal(1, pos.ActiveSLCount())
}

func (suite *FollowerTestSuite) TestAddKeepsNewerTrackedState() {
	snapshot := ladder(types.DirectionLong).Position

	suite.tick("101.60")
	suite.Require().NoError(suite.follower.Add(context.Background(), *snapshot))

	pos, _ := suite.follower.Get(1)
	suite.True(d("5").Equal(pos.QuantityLeft))

	suite.tick("101.60")
	suite.Len(suite.store.changes, 1)
	suite.Equal(1, suite.storedLiveSLs())
}

func (suite *FollowerTestSuite) TestStaleTargetIsReloaded() {
	stored := suite.store.positions[1]
	stored.Targets[0].Hit = true
	stored.QuantityLeft = d("5")
	stored.Status = types.PositionStatusPartial
	suite.store.positions[1] = stored

	suite.tick("101.60")

	suite.Empty(suite.store.changes)

	pos, ok := suite.follower.Get(1)
	suite.Require().True(ok)
	suite.True(pos.Targets[0].Hit)
	suite.True(d("5").Equal(pos.QuantityLeft))
}
