package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type PositionTestSuite struct {
	suite.Suite
}

func TestPositionSuite(t *testing.T) {
	suite.Run(t, new(PositionTestSuite))
}

func (suite *PositionTestSuite) position() *Position {
	return &Position{
		ID:     1,
		Status: PositionStatusOpen,
		Targets: []PositionTarget{
			{ID: 3, Type: TargetTypeTP, Level: 2, Quantity: MustDecimal("3")},
			{ID: 2, Type: TargetTypeTP, Level: 1, Quantity: MustDecimal("5"), Hit: true},
			{ID: 4, Type: TargetTypeSL, Quantity: MustDecimal("10"), Canceled: true},
			{ID: 5, Type: TargetTypeSL, Quantity: MustDecimal("5"), Price: decimal.NewNullDecimal(MustDecimal("100"))},
		},
	}
}

func (suite *PositionTestSuite) TestTargetQueries() {
	p := suite.position()

	sl, ok := p.ActiveSL()
	suite.True(ok)
	suite.Equal(int64(5), sl.ID)
	suite.Equal(1, p.ActiveSLCount())
	suite.True(p.HasHitTP())
	suite.Equal("5", p.HitQuantity().String())

	tps := p.ActiveTPs()
	suite.Len(tps, 1)
	suite.Equal(2, tps[0].Level)
	suite.True(p.IsOpen())
}

func (suite *PositionTestSuite) TestClone() {
	p := suite.position()
	c := p.Clone()
	c.Targets[0].Hit = true

	suite.False(p.Targets[0].Hit)
}

func (suite *PositionTestSuite) TestStrategyHelpers() {
	s := &Strategy{
		Enabled: true, AllowOpen: true, Tickers: []string{"BTCUSDT"},
		TpLevels: []StrategyTpLevel{{Level: 2}, {Level: 1}},
		TpSl:     []StrategyTpSl{{TpLevel: 1, SlMode: SlModeEntry}},
	}

	suite.True(s.CanOpen())
	suite.True(s.Permits("BTCUSDT"))
	suite.False(s.Permits("ETHUSDT"))
	suite.Equal(1, s.SortedTpLevels()[0].Level)
	suite.True(s.SlRuleAfter(1).IsSome())
	suite.True(s.SlRuleAfter(2).IsNone())

	s.Archived = true
	suite.False(s.CanOpen())
	suite.Equal("tp-2-hit", TPLevelHitReason(2))
}
