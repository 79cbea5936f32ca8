package types

import (
	"sort"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type TpType string

const (
	TpTypeATR            TpType = "atr"
	TpTypePercent        TpType = "percent"
	TpTypeExternalSignal TpType = "external_signal"
)

type TriggerType string

const (
	TriggerTypePrice  TriggerType = "price"
	TriggerTypeSignal TriggerType = "signal"
)

type SlMode string

const (
	SlModeNone    SlMode = "none"
	SlModeEntry   SlMode = "entry"
	SlModePercent SlMode = "percent"
	SlModeATR     SlMode = "atr"
)

// StrategyTpLevel is one rung of the take-profit ladder.
type StrategyTpLevel struct {
	StrategyID    int64           `db:"strategy_id" json:"strategy_id"`
	Level         int             `db:"level" json:"level"`
	TpType        TpType          `db:"tp_type" json:"tp_type"`
	TpValue       decimal.Decimal `db:"tp_value" json:"tp_value"`
	VolumePercent decimal.Decimal `db:"volume_percent" json:"volume_percent"`
	TriggerType   TriggerType     `db:"tp_trigger_type" json:"tp_trigger_type"`
	TriggerSignal string          `db:"trigger_signal" json:"trigger_signal"`
}

// StrategyTpSl is the stop-loss rule applied after TP level TpLevel fires.
type StrategyTpSl struct {
	StrategyID int64           `db:"strategy_id" json:"strategy_id"`
	TpLevel    int             `db:"tp_level" json:"tp_level"`
	SlMode     SlMode          `db:"sl_mode" json:"sl_mode"`
	SlValue    decimal.Decimal `db:"sl_value" json:"sl_value"`
}

type Strategy struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Evaluator     string          `db:"evaluator" json:"evaluator"`
	Deposit       decimal.Decimal `db:"deposit" json:"deposit"`
	PositionLimit decimal.Decimal `db:"position_limit" json:"position_limit"`
	Leverage      decimal.Decimal `db:"leverage" json:"leverage"`
	MaxRisk       decimal.Decimal `db:"max_risk" json:"max_risk"`
	Timeframe     Timeframe       `db:"timeframe" json:"timeframe"`
	UseAllTickers bool            `db:"use_all_tickers" json:"use_all_tickers"`
	Enabled       bool            `db:"enabled" json:"enabled"`
	Archived      bool            `db:"archived" json:"archived"`
	AllowOpen     bool            `db:"allow_open" json:"allow_open"`
	Reverse       bool            `db:"reverse" json:"reverse"`

	Tickers  []string          `db:"-" json:"tickers"`
	TpLevels []StrategyTpLevel `db:"-" json:"tp_levels"`
	TpSl     []StrategyTpSl    `db:"-" json:"tp_sl"`
}

// CanOpen reports whether the strategy accepts new positions at all.
func (s *Strategy) CanOpen() bool {
	return s.Enabled && !s.Archived && s.AllowOpen
}

// Permits reports whether symbol is in the strategy's ticker set.
func (s *Strategy) Permits(symbol string) bool {
	if s.UseAllTickers {
		return true
	}

	for _, t := range s.Tickers {
		if t == symbol {
			return true
		}
	}

	return false
}

// SortedTpLevels returns the ladder ordered by level.
func (s *Strategy) SortedTpLevels() []StrategyTpLevel {
	levels := make([]StrategyTpLevel, len(s.TpLevels))
	copy(levels, s.TpLevels)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	return levels
}

// SlRuleAfter returns the stop-loss rule for TP level, if any.
func (s *Strategy) SlRuleAfter(level int) optional.Option[StrategyTpSl] {
	for _, rule := range s.TpSl {
		if rule.TpLevel == level {
			return optional.Some(rule)
		}
	}

	return optional.None[StrategyTpSl]()
}
