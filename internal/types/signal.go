package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}

	return DirectionLong
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}

	return decimal.NewFromInt(1)
}

type SignalType string

const (
	SignalTypeAction SignalType = "action"
	SignalTypeExit   SignalType = "exit"
)

// ActionTriggerSentinel marks a signal-triggered TP that fires on the
// opposite action phrase of a reverse strategy.
const ActionTriggerSentinel = "action"

// Signal is the set of admissible phrases. Each non-empty phrase is globally unique.
type Signal struct {
	ID              int64      `db:"id" json:"id"`
	LongPhrase      string     `db:"long_phrase" json:"long_phrase"`
	ShortPhrase     string     `db:"short_phrase" json:"short_phrase"`
	LongExitPhrase  string     `db:"long_exit_phrase" json:"long_exit_phrase"`
	ShortExitPhrase string     `db:"short_exit_phrase" json:"short_exit_phrase"`
	SignalType      SignalType `db:"signal_type" json:"signal_type"`
	Enabled         bool       `db:"enabled" json:"enabled"`
}

// PhraseMatch is the result of resolving a raw phrase against a Signal.
type PhraseMatch struct {
	Signal    Signal
	Role      SignalType
	Direction Direction
}

// Match resolves phrase against s. Action phrases yield the direction to
// open, exit phrases yield the direction to close.
func (s Signal) Match(phrase string) (PhraseMatch, bool) {
	if phrase == "" {
		return PhraseMatch{}, false
	}

	switch phrase {
	case s.LongPhrase:
		return PhraseMatch{Signal: s, Role: SignalTypeAction, Direction: DirectionLong}, true
	case s.ShortPhrase:
		return PhraseMatch{Signal: s, Role: SignalTypeAction, Direction: DirectionShort}, true
	case s.LongExitPhrase:
		return PhraseMatch{Signal: s, Role: SignalTypeExit, Direction: DirectionLong}, true
	case s.ShortExitPhrase:
		return PhraseMatch{Signal: s, Role: SignalTypeExit, Direction: DirectionShort}, true
	}

	return PhraseMatch{}, false
}

// Phrases returns every non-empty phrase of s.
func (s Signal) Phrases() []string {
	out := make([]string, 0, 4)

	for _, p := range []string{s.LongPhrase, s.ShortPhrase, s.LongExitPhrase, s.ShortExitPhrase} {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

type StrategySignal struct {
	StrategyID int64      `db:"strategy_id"`
	SignalID   int64      `db:"signal_id"`
	Role       SignalType `db:"role"`
}

// IncomingSignal is the normalised stream form of a webhook or bus signal.
type IncomingSignal struct {
	Message    string    `json:"message" validate:"required"`
	Symbol     string    `json:"symbol" validate:"required"`
	BarTime    time.Time `json:"time"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// SignalUID identifies one occurrence of a signal: sha256 of "{phrase}:{symbol}:{bar_time}".
func SignalUID(phrase, symbol string, barTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", phrase, symbol, barTime.UTC().Unix())))

	return hex.EncodeToString(sum[:])
}

type SignalLogStatus string

const (
	SignalLogStatusNew     SignalLogStatus = "new"
	SignalLogStatusRouted  SignalLogStatus = "routed"
	SignalLogStatusExit    SignalLogStatus = "exit"
	SignalLogStatusNoRoute SignalLogStatus = "no_route"
)

// SignalLog is the append-only audit of one incoming signal.
type SignalLog struct {
	ID         int64           `db:"id" json:"id"`
	Phrase     string          `db:"phrase" json:"phrase"`
	Symbol     string          `db:"symbol" json:"symbol"`
	BarTime    time.Time       `db:"bar_time" json:"bar_time"`
	SentAt     time.Time       `db:"sent_at" json:"sent_at"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
	Status     SignalLogStatus `db:"status" json:"status"`
	UID        string          `db:"uid" json:"uid"`
}

type SignalLogEntryStatus string

const (
	EntryStatusOpened          SignalLogEntryStatus = "opened"
	EntryStatusIgnoredByCheck  SignalLogEntryStatus = "ignored_by_check"
	EntryStatusIgnoredByFilter SignalLogEntryStatus = "ignored_by_filter"
	EntryStatusError           SignalLogEntryStatus = "error"
)

// SignalLogEntry is the terminal per-strategy outcome of a routed signal.
type SignalLogEntry struct {
	LogID      int64                `db:"log_id" json:"log_id"`
	StrategyID int64                `db:"strategy_id" json:"strategy_id"`
	Status     SignalLogEntryStatus `db:"status" json:"status"`
	Note       string               `db:"note" json:"note"`
	CreatedAt  time.Time            `db:"created_at" json:"created_at"`
}

// StrategyTask is one entry of strategy_tasks.
type StrategyTask struct {
	StrategyID int64     `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	BarTime    time.Time `json:"bar_time"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
	LogID      int64     `json:"log_id"`
}

// ExitSignal asks the follower to fire signal-triggered targets of open
// positions on Symbol that hold Direction.
type ExitSignal struct {
	Phrase     string    `json:"phrase"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Strategies []int64   `json:"strategies,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Matches reports whether target trigger fires for a position of strategyID holding direction.
func (e ExitSignal) Matches(trigger string, strategyID int64, direction Direction) bool {
	if direction != e.Direction {
		return false
	}

	if trigger != e.Phrase {
		return false
	}

	if len(e.Strategies) == 0 {
		return true
	}

	for _, id := range e.Strategies {
		if id == strategyID {
			return true
		}
	}

	return false
}
