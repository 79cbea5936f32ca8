// Package strategy consumes strategy tasks and turns the admitted ones into
// open positions.
//
// Each task goes through admission checks, then the strategy's evaluator,
// then sizing and target construction. Every task ends with exactly one
// signal log entry: opened, ignored_by_check, ignored_by_filter or error.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Admission notes written to signal_log_entries.
const (
	NoteStrategyNotFound   = "strategy not found"
	NoteStrategyDisabled   = "strategy disabled"
	NoteStrategyArchived   = "strategy archived"
	NoteOpeningNotAllowed  = "opening not allowed"
	NoteSymbolNotFound     = "symbol not found"
	NoteSymbolNotTradable  = "symbol not tradable"
	NoteSymbolNotPermitted = "symbol not permitted"
	NotePositionOpen       = "position already open"
	NoteDepositExceeded    = "deposit limit exceeded"
	NoteBelowMinQty        = "quantity below min_qty"
)

// Store is the storage used by the runtime.
type Store interface {
	GetStrategy(ctx context.Context, id int64) (types.Strategy, error)
	GetSymbol(ctx context.Context, symbol string) (types.Symbol, error)
	HasOpenPosition(ctx context.Context, strategyID int64, symbol string) (bool, error)
	OpenNotional(ctx context.Context, strategyID int64) (decimal.Decimal, error)
	CreatePosition(ctx context.Context, pos *types.Position) error
	InsertSignalLogEntry(ctx context.Context, entry types.SignalLogEntry) error
	InsertSystemLog(ctx context.Context, entry types.SystemLog) error
}

type Options struct {
	Tasks  bus.ConsumerConfig
	Closes bus.ConsumerConfig
	Now    func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Tasks: bus.ConsumerConfig{
			Stream:   bus.StreamStrategyTasks,
			Group:    "runtime",
			Consumer: "runtime-1",
		},
		Closes: bus.ConsumerConfig{
			Stream:   bus.StreamPositionClose,
			Group:    "closer",
			Consumer: "closer-1",
		},
		Now: time.Now,
	}
}

// Outcome is the terminal state of one strategy task.
type Outcome struct {
	Status   types.SignalLogEntryStatus
	Note     string
	Position *types.Position
}

func ignored(status types.SignalLogEntryStatus, note string) Outcome {
	return Outcome{Status: status, Note: note}
}

type Runtime struct {
	store      Store
	indicators Indicators
	evaluators *Evaluators
	publisher  bus.Publisher
	opts       Options
	logger     *logger.Logger

	handoff chan<- types.Position
}

func New(store Store, indicators Indicators, evaluators *Evaluators, publisher bus.Publisher, opts Options, log *logger.Logger) *Runtime {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runtime{
		store:      store,
		indicators: indicators,
		evaluators: evaluators,
		publisher:  publisher,
		opts:       opts,
		logger:     log.Named("runtime"),
	}
}

// HandOff delivers every opened position to ch without blocking. Used when
// the follower runs in the same process.
func (r *Runtime) HandOff(ch chan<- types.Position) {
	r.handoff = ch
}

// Process runs one task to its outcome. Only infrastructure failures are
// returned as errors.
func (r *Runtime) Process(ctx context.Context, task types.StrategyTask) (Outcome, error) {
	s, err := r.store.GetStrategy(ctx, task.StrategyID)
	if errors.HasCode(err, errors.ErrCodeStrategyNotFound) {
		return ignored(types.EntryStatusIgnoredByCheck, NoteStrategyNotFound), nil
	}

	if err != nil {
		return Outcome{}, err
	}

	switch {
	case !task.Direction.Valid():
		return ignored(types.EntryStatusError, fmt.Sprintf("invalid direction %q", task.Direction)), nil
	case !s.Enabled:
		return ignored(types.EntryStatusIgnoredByCheck, NoteStrategyDisabled), nil
	case s.Archived:
		return ignored(types.EntryStatusIgnoredByCheck, NoteStrategyArchived), nil
	case !s.AllowOpen:
		return ignored(types.EntryStatusIgnoredByCheck, NoteOpeningNotAllowed), nil
	}

	sym, err := r.store.GetSymbol(ctx, task.Symbol)
	if errors.HasCode(err, errors.ErrCodeSymbolNotFound) {
		return ignored(types.EntryStatusIgnoredByCheck, NoteSymbolNotFound), nil
	}

	if err != nil {
		return Outcome{}, err
	}

	if !sym.Tradable() {
		return ignored(types.EntryStatusIgnoredByCheck, NoteSymbolNotTradable), nil
	}

	if !s.Permits(sym.Symbol) {
		return ignored(types.EntryStatusIgnoredByCheck, NoteSymbolNotPermitted), nil
	}

	open, err := r.store.HasOpenPosition(ctx, s.ID, sym.Symbol)
	if err != nil {
		return Outcome{}, err
	}

	if open {
		return ignored(types.EntryStatusIgnoredByCheck, NotePositionOpen), nil
	}

	notional, err := r.store.OpenNotional(ctx, s.ID)
	if err != nil {
		return Outcome{}, err
	}

	if notional.Add(s.PositionLimit).GreaterThan(s.Deposit) {
		return ignored(types.EntryStatusIgnoredByCheck, NoteDepositExceeded), nil
	}

	price, err := r.indicators.Price(ctx, sym.Symbol)
	if err != nil {
		return r.filterOutcome(err)
	}

	ev, err := r.evaluators.Get(s.Evaluator)
	if err != nil {
		return ignored(types.EntryStatusError, message(err)), nil
	}

	price = sym.RoundPrice(price)

	entry, err := ev.Evaluate(ctx, EvalContext{
		Strategy:   s,
		Symbol:     sym,
		Direction:  task.Direction,
		Price:      price,
		Indicators: r.indicators,
	})
	if err != nil {
		return r.filterOutcome(err)
	}

	sized := Size(sym, s.PositionLimit, price)
	if sized.IsNone() {
		return ignored(types.EntryStatusIgnoredByCheck, NoteBelowMinQty), nil
	}

	plan := BuildPlan(s, sym, task.Direction, price, sized.Unwrap(), entry)

	pos, err := r.open(ctx, s, task, plan, entry)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{Status: types.EntryStatusOpened, Note: fmt.Sprintf("position %d", pos.ID), Position: pos}, nil
}

// filterOutcome maps evaluator failures. Missing market state and rejected
// filters end the task, everything else is an infrastructure failure.
func (r *Runtime) filterOutcome(err error) (Outcome, error) {
	switch errors.GetCode(err) {
	case errors.ErrCodeFilterRejected, errors.ErrCodeIndicatorMissing, errors.ErrCodePriceUnavailable:
		return ignored(types.EntryStatusIgnoredByFilter, message(err)), nil
	}

	if errors.IsRetryable(err) {
		return Outcome{}, err
	}

	return ignored(types.EntryStatusError, message(err)), nil
}

func (r *Runtime) open(ctx context.Context, s types.Strategy, task types.StrategyTask, plan Plan, entry Entry) (*types.Position, error) {
	now := r.opts.Now().UTC()

	pos := &types.Position{
		StrategyID:    s.ID,
		Symbol:        plan.Symbol,
		Direction:     task.Direction,
		EntryPrice:    plan.EntryPrice,
		EntryATR:      entry.ATR,
		Quantity:      plan.Quantity,
		QuantityLeft:  plan.Quantity,
		NotionalValue: plan.Notional,
		Status:        types.PositionStatusOpen,
		PlannedRisk:   plan.PlannedRisk,
		LogID:         task.LogID,
		CreatedAt:     now,
		Targets:       plan.Targets,
	}

	if err := r.store.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}

	entryLog := types.SystemLog{
		Action:     types.SystemActionPositionOpened,
		ActionFlag: types.ActionFlagInfo,
		Symbol:     pos.Symbol,
		PositionID: &pos.ID,
		Message: fmt.Sprintf("strategy %d opened %s %s at %s, sl %s",
			s.ID, pos.Direction, pos.Quantity, pos.EntryPrice, entry.StopLoss),
		CreatedAt: now,
	}
	if task.LogID != 0 {
		entryLog.LogID = &task.LogID
	}

	if err := r.store.InsertSystemLog(ctx, entryLog); err != nil {
		r.logger.Error("Failed to write system log", zap.Int64("position_id", pos.ID), zap.Error(err))
	}

	if r.handoff != nil {
		select {
		case r.handoff <- *pos.Clone():
		default:
			r.logger.Warn("Follower hand-off is full, position waits for the next refresh", zap.Int64("position_id", pos.ID))
		}
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, bus.ChannelPositionOpened, types.PositionOpened{Position: *pos}); err != nil {
			r.logger.Warn("Failed to announce opened position", zap.Int64("position_id", pos.ID), zap.Error(err))
		}
	}

	metrics.PositionsOpened.Inc()

	return pos, nil
}

// HandleTask is the strategy_tasks stream handler.
func (r *Runtime) HandleTask(ctx context.Context, msg bus.StreamMessage) error {
	var task types.StrategyTask
	if err := msg.Decode(&task); err != nil {
		r.logger.Warn("Dropping malformed strategy task", zap.String("id", msg.ID), zap.Error(err))

		return nil
	}

	fields := []zap.Field{
		zap.Int64("strategy", task.StrategyID),
		zap.String("symbol", task.Symbol),
		zap.String("direction", string(task.Direction)),
		zap.Int64("log_id", task.LogID),
	}

	out, err := r.Process(ctx, task)
	if err != nil {
		if errors.IsRetryable(err) {
			return err
		}

		r.logger.Error("Strategy task failed", append(fields, zap.Error(err))...)
		out = ignored(types.EntryStatusError, message(err))
	}

	metrics.StrategyDecisions.WithLabelValues(string(out.Status)).Inc()

	switch out.Status {
	case types.EntryStatusOpened:
		r.logger.Info("Position opened", append(fields, zap.Int64("position_id", out.Position.ID))...)
	case types.EntryStatusError:
		r.logger.Error("Strategy task ended in error", append(fields, zap.String("note", out.Note))...)
	default:
		r.logger.Warn("Strategy task ignored", append(fields,
			zap.String("status", string(out.Status)),
			zap.String("note", out.Note),
		)...)
	}

	return r.record(ctx, task, out)
}

func (r *Runtime) record(ctx context.Context, task types.StrategyTask, out Outcome) error {
	if task.LogID == 0 {
		return nil
	}

	return r.store.InsertSignalLogEntry(ctx, types.SignalLogEntry{
		LogID:      task.LogID,
		StrategyID: task.StrategyID,
		Status:     out.Status,
		Note:       out.Note,
		CreatedAt:  r.opts.Now().UTC(),
	})
}

// Run consumes strategy tasks and position closures until ctx is done.
func (r *Runtime) Run(ctx context.Context, consumer bus.StreamConsumer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Consume(ctx, r.opts.Tasks, r.HandleTask)
	})

	g.Go(func() error {
		return consumer.Consume(ctx, r.opts.Closes, r.HandleClose)
	})

	return g.Wait()
}

// message strips the code prefix of coded errors.
func message(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}

	return err.Error()
}
