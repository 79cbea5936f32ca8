// Package follower tracks open positions against the mark price and fires
// their take-profit and stop-loss targets.
//
// The open-position map is owned by the Follower and every mutation goes
// through its mutex. A position changes in memory only after the store
// accepted the change, so a failed write is retried on the next tick.
package follower

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the storage used by the follower.
type Store interface {
	ListOpenPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, id int64) (types.Position, error)
	GetStrategy(ctx context.Context, id int64) (types.Strategy, error)
	GetSymbol(ctx context.Context, symbol string) (types.Symbol, error)
	ApplyPositionChange(ctx context.Context, change *types.PositionChange) error
	InsertSystemLog(ctx context.Context, entry types.SystemLog) error
}

// Prices returns the latest mark price of a symbol.
type Prices interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Options struct {
	Tick            time.Duration
	RefreshInterval time.Duration
	Commission      decimal.Decimal
	Shard           Shard
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Tick:            time.Second,
		RefreshInterval: time.Minute,
		Commission:      decimal.RequireFromString("0.0004"),
		Shard:           Shard{Index: 0, Count: 1},
		Now:             time.Now,
	}
}

type Follower struct {
	store     Store
	prices    Prices
	closes    bus.StreamWriter
	evaluator Evaluator
	opts      Options
	logger    *logger.Logger

	mu   sync.Mutex
	open map[int64]*Tracked

	handoff chan types.Position
}

func New(store Store, prices Prices, closes bus.StreamWriter, opts Options, log *logger.Logger) *Follower {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Follower{
		store:     store,
		prices:    prices,
		closes:    closes,
		evaluator: Evaluator{Commission: opts.Commission},
		opts:      opts,
		logger:    log.Named("follower"),
		open:      make(map[int64]*Tracked),
		handoff:   make(chan types.Position, 64),
	}
}

// HandOff is the channel the strategy runtime sends opened positions to
// when both run in one process.
func (f *Follower) HandOff() chan<- types.Position {
	return f.handoff
}

// Len is the number of tracked positions.
func (f *Follower) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.open)
}

// Get returns a copy of a tracked position.
func (f *Follower) Get(id int64) (types.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.open[id]
	if !ok {
		return types.Position{}, false
	}

	return *t.Position.Clone(), true
}

// Add starts tracking pos. A position already tracked is left alone: the
// tracked copy may already hold changes newer than pos.
func (f *Follower) Add(ctx context.Context, pos types.Position) error {
	if !pos.IsOpen() || !f.opts.Shard.Owns(pos.ID) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.track(ctx, pos, map[int64]types.Strategy{}, false)
}

// track must be called with f.mu held. replace overwrites an already tracked
// position with pos.
func (f *Follower) track(ctx context.Context, pos types.Position, strategies map[int64]types.Strategy, replace bool) error {
	if t, ok := f.open[pos.ID]; ok {
		if replace {
			t.Position = pos.Clone()
		}

		return nil
	}

	s, ok := strategies[pos.StrategyID]
	if !ok {
		var err error

		s, err = f.store.GetStrategy(ctx, pos.StrategyID)
		if err != nil {
			return err
		}

		strategies[pos.StrategyID] = s
	}

	sym, err := f.store.GetSymbol(ctx, pos.Symbol)
	if err != nil {
		return err
	}

	f.open[pos.ID] = &Tracked{Position: pos.Clone(), Symbol: sym, Strategy: s}
	metrics.OpenPositions.Set(float64(len(f.open)))

	f.logger.Info("Tracking position",
		zap.Int64("position_id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("direction", string(pos.Direction)),
	)

	return nil
}

// Refresh resyncs the map with the store: missing positions are added,
// positions no longer open are dropped, targets are replaced in place. The
// lock is held across the query so no tick lands between the read and the
// merge.
func (f *Follower) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	positions, err := f.store.ListOpenPositions(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(positions))
	strategies := make(map[int64]types.Strategy)

	for _, pos := range positions {
		if !f.opts.Shard.Owns(pos.ID) {
			continue
		}

		seen[pos.ID] = struct{}{}

		if err := f.track(ctx, pos, strategies, true); err != nil {
			f.logger.Error("Failed to track position", zap.Int64("position_id", pos.ID), zap.Error(err))
		}
	}

	for id := range f.open {
		if _, ok := seen[id]; !ok {
			delete(f.open, id)
		}
	}

	metrics.OpenPositions.Set(float64(len(f.open)))

	return nil
}

// Tick checks every tracked position against its mark price once.
func (f *Follower) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.FollowerTickDuration.Observe(time.Since(start).Seconds()) }()

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.opts.Now().UTC()

	for id, t := range f.open {
		price, err := f.prices.Price(ctx, t.Position.Symbol)
		if err != nil {
			f.logger.Debug("No mark price", zap.Int64("position_id", id), zap.Error(err))

			continue
		}

		change, err := f.evaluator.OnPrice(*t, price, now)
		if err != nil {
			f.fault(ctx, t, price, now, err)

			continue
		}

		if change.IsSome() {
			f.apply(ctx, t, change.Unwrap())
		}
	}

	return nil
}

// Exit fires the signal-triggered targets matched by exit.
func (f *Follower) Exit(ctx context.Context, exit types.ExitSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.opts.Now().UTC()

	var price decimal.Decimal
	var priced bool

	for _, t := range f.open {
		if t.Position.Symbol != exit.Symbol || t.Position.Direction != exit.Direction {
			continue
		}

		if !priced {
			p, err := f.prices.Price(ctx, exit.Symbol)
			if err != nil {
				return err
			}

			price, priced = p, true
		}

		change, err := f.evaluator.OnExit(*t, exit, price, now)
		if err != nil {
			f.fault(ctx, t, price, now, err)

			continue
		}

		if change.IsSome() {
			f.apply(ctx, t, change.Unwrap())
		}
	}

	return nil
}

// apply persists change and mirrors it in memory. Must be called with f.mu held.
func (f *Follower) apply(ctx context.Context, t *Tracked, change types.PositionChange) bool {
	id := t.Position.ID

	if err := f.store.ApplyPositionChange(ctx, &change); err != nil {
		if errors.HasCode(err, errors.ErrCodePositionNotFound) {
			f.logger.Warn("Position closed elsewhere, dropping", zap.Int64("position_id", id))
			delete(f.open, id)

			return false
		}

		if errors.HasCode(err, errors.ErrCodePositionConflict) {
			f.logger.Warn("Tracked position is stale, reloading", zap.Int64("position_id", id), zap.Error(err))
			f.reload(ctx, t)

			return false
		}

		f.logger.Error("Failed to persist position change", zap.Int64("position_id", id), zap.Error(err))

		return false
	}

	pos := change.Position
	pos.Targets = append(pos.Targets, change.NewTargets...)
	t.Position = &pos

	f.logger.Info("Position updated", zap.Int64("position_id", id), zap.String("state", describe(change)))

	if change.Closed() {
		delete(f.open, id)
		metrics.OpenPositions.Set(float64(len(f.open)))
		metrics.PositionsClosed.WithLabelValues(pos.CloseReason).Inc()
		f.announceClose(ctx, pos)
	}

	return true
}

// reload replaces the tracked copy with the stored position. Must be called
// with f.mu held.
func (f *Follower) reload(ctx context.Context, t *Tracked) {
	id := t.Position.ID

	pos, err := f.store.GetPosition(ctx, id)
	if err != nil {
		f.logger.Error("Failed to reload position", zap.Int64("position_id", id), zap.Error(err))

		return
	}

	if !pos.IsOpen() {
		delete(f.open, id)
		metrics.OpenPositions.Set(float64(len(f.open)))

		return
	}

	t.Position = pos.Clone()
}

func (f *Follower) announceClose(ctx context.Context, pos types.Position) {
	closed := types.PositionClosed{
		PositionID: pos.ID,
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Reason:     pos.CloseReason,
		ExitPrice:  pos.ExitPrice.Decimal,
		PnL:        pos.PnL,
	}
	if pos.ClosedAt != nil {
		closed.ClosedAt = *pos.ClosedAt
	}

	if _, err := f.closes.Append(ctx, bus.StreamPositionClose, closed); err != nil {
		f.logger.Error("Failed to announce position close", zap.Int64("position_id", pos.ID), zap.Error(err))
	}
}

// fault closes a position whose state broke an invariant and leaves an
// audit trail. Must be called with f.mu held.
func (f *Follower) fault(ctx context.Context, t *Tracked, price decimal.Decimal, now time.Time, cause error) {
	id := t.Position.ID
	f.logger.Error("Domain fault, closing position", zap.Int64("position_id", id), zap.Error(cause))

	if !f.apply(ctx, t, f.evaluator.Fault(*t, price, now)) {
		return
	}

	err := f.store.InsertSystemLog(ctx, types.SystemLog{
		Action:     types.SystemActionDomainFault,
		ActionFlag: types.ActionFlagAudit,
		Symbol:     t.Position.Symbol,
		PositionID: &id,
		Message:    fmt.Sprintf("closed at %s: %v", price, cause),
		CreatedAt:  now,
	})
	if err != nil {
		f.logger.Error("Failed to write audit log", zap.Int64("position_id", id), zap.Error(err))
	}
}

// HandleMessage dispatches exit_signals and position_opened notifications.
func (f *Follower) HandleMessage(ctx context.Context, msg bus.Message) error {
	switch msg.Channel {
	case bus.ChannelExitSignals:
		var exit types.ExitSignal
		if err := msg.Decode(&exit); err != nil {
			return err
		}

		return f.Exit(ctx, exit)
	case bus.ChannelPositionOpened:
		var opened types.PositionOpened
		if err := msg.Decode(&opened); err != nil {
			return err
		}

		return f.Add(ctx, opened.Position)
	default:
		return nil
	}
}

// Run follows positions until ctx is done.
func (f *Follower) Run(ctx context.Context, sub bus.Subscriber) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Every(ctx, f.logger, "Open position refresh", f.opts.RefreshInterval, f.Refresh)
	})

	g.Go(func() error {
		return supervisor.Every(ctx, f.logger, "Follower tick", f.opts.Tick, f.Tick)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case pos := <-f.handoff:
				if err := f.Add(ctx, pos); err != nil {
					f.logger.Error("Failed to track handed-off position", zap.Int64("position_id", pos.ID), zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		return sub.Listen(ctx, f.HandleMessage, bus.ChannelExitSignals, bus.ChannelPositionOpened)
	})

	return g.Wait()
}
