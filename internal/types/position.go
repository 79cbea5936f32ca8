package types

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusPartial PositionStatus = "partial"
	PositionStatusClosed  PositionStatus = "closed"
)

const (
	CloseReasonTPFull = "tp-full-hit"
	CloseReasonSL     = "sl"
	CloseReasonSLTP   = "sl-tp-hit"
	// CloseReasonFault closes a position whose state broke an invariant.
	CloseReasonFault = "fault"
)

// TPLevelHitReason is the transient close reason after TP level fires.
func TPLevelHitReason(level int) string {
	return fmt.Sprintf("tp-%d-hit", level)
}

type TargetType string

const (
	TargetTypeTP TargetType = "tp"
	TargetTypeSL TargetType = "sl"
)

// PositionTarget is a pending or historical TP/SL order of a position.
// Price is null for signal-triggered TPs.
type PositionTarget struct {
	ID            int64               `db:"id" json:"id"`
	PositionID    int64               `db:"position_id" json:"position_id"`
	Type          TargetType          `db:"type" json:"type"`
	Level         int                 `db:"level" json:"level"`
	Price         decimal.NullDecimal `db:"price" json:"price"`
	Quantity      decimal.Decimal     `db:"quantity" json:"quantity"`
	Hit           bool                `db:"hit" json:"hit"`
	HitAt         *time.Time          `db:"hit_at" json:"hit_at,omitempty"`
	Canceled      bool                `db:"canceled" json:"canceled"`
	TriggerType   TriggerType         `db:"tp_trigger_type" json:"tp_trigger_type"`
	TriggerSignal string              `db:"trigger_signal" json:"trigger_signal"`
}

// Active reports whether the target can still fire.
func (t PositionTarget) Active() bool {
	return !t.Hit && !t.Canceled
}

// Position is a virtual exposure. Targets are loaded alongside for the follower.
type Position struct {
	ID            int64               `db:"id" json:"id"`
	StrategyID    int64               `db:"strategy_id" json:"strategy_id"`
	Symbol        string              `db:"symbol" json:"symbol"`
	Direction     Direction           `db:"direction" json:"direction"`
	EntryPrice    decimal.Decimal     `db:"entry_price" json:"entry_price"`
	EntryATR      decimal.Decimal     `db:"entry_atr" json:"entry_atr"`
	Quantity      decimal.Decimal     `db:"quantity" json:"quantity"`
	QuantityLeft  decimal.Decimal     `db:"quantity_left" json:"quantity_left"`
	NotionalValue decimal.Decimal     `db:"notional_value" json:"notional_value"`
	Status        PositionStatus      `db:"status" json:"status"`
	PlannedRisk   decimal.Decimal     `db:"planned_risk" json:"planned_risk"`
	PnL           decimal.Decimal     `db:"pnl" json:"pnl"`
	Commission    decimal.Decimal     `db:"commission" json:"commission"`
	CloseReason   string              `db:"close_reason" json:"close_reason"`
	ExitPrice     decimal.NullDecimal `db:"exit_price" json:"exit_price"`
	LogID         int64               `db:"log_id" json:"log_id"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	ClosedAt      *time.Time          `db:"closed_at" json:"closed_at,omitempty"`

	Targets []PositionTarget `db:"-" json:"targets"`
}

func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusPartial
}

// ActiveSL returns the single live stop-loss target.
func (p *Position) ActiveSL() (PositionTarget, bool) {
	for _, t := range p.Targets {
		if t.Type == TargetTypeSL && t.Active() {
			return t, true
		}
	}

	return PositionTarget{}, false
}

// ActiveSLCount counts live stop-loss targets. An open position holds exactly one.
func (p *Position) ActiveSLCount() int {
	n := 0

	for _, t := range p.Targets {
		if t.Type == TargetTypeSL && t.Active() {
			n++
		}
	}

	return n
}

// ActiveTPs returns live TP targets ordered by level.
func (p *Position) ActiveTPs() []PositionTarget {
	var out []PositionTarget

	for _, t := range p.Targets {
		if t.Type == TargetTypeTP && t.Active() {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })

	return out
}

// HasHitTP reports whether any TP target already fired.
func (p *Position) HasHitTP() bool {
	for _, t := range p.Targets {
		if t.Type == TargetTypeTP && t.Hit {
			return true
		}
	}

	return false
}

// HitQuantity sums the quantities of every hit target.
func (p *Position) HitQuantity() decimal.Decimal {
	sum := decimal.Zero

	for _, t := range p.Targets {
		if t.Hit {
			sum = sum.Add(t.Quantity)
		}
	}

	return sum
}

// Clone deep-copies p including targets.
func (p *Position) Clone() *Position {
	c := *p
	c.Targets = make([]PositionTarget, len(p.Targets))
	copy(c.Targets, p.Targets)

	return &c
}

// PositionChange is everything one follower event mutates on a position.
// The store applies it in a single transaction.
type PositionChange struct {
	Position        Position         `json:"position"`
	HitTargetIDs    []int64          `json:"hit_target_ids"`
	CancelTargetIDs []int64          `json:"cancel_target_ids"`
	NewTargets      []PositionTarget `json:"new_targets"`
	HitAt           time.Time        `json:"hit_at"`
}

// Closed reports whether the change closes the position.
func (c PositionChange) Closed() bool {
	return c.Position.Status == PositionStatusClosed
}

// PositionClosed is the payload of the position:close stream.
type PositionClosed struct {
	PositionID int64           `json:"position_id"`
	StrategyID int64           `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Reason     string          `json:"reason"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	PnL        decimal.Decimal `json:"pnl"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// SystemLog is a free-form structured event.
type SystemLog struct {
	ID         int64     `db:"id" json:"id"`
	Action     string    `db:"action" json:"action"`
	ActionFlag string    `db:"action_flag" json:"action_flag"`
	Symbol     string    `db:"symbol" json:"symbol"`
	PositionID *int64    `db:"position_id" json:"position_id,omitempty"`
	LogID      *int64    `db:"log_id" json:"log_id,omitempty"`
	Message    string    `db:"message" json:"message"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

const (
	SystemActionPositionOpened = "position_opened"
	SystemActionPositionClosed = "position_closed"
	SystemActionDomainFault    = "domain_fault"

	ActionFlagInfo  = "info"
	ActionFlagAudit = "audit"
)
