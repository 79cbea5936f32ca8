// Package router turns incoming signal phrases into strategy tasks and exit
// signals.
//
// Every signal occurrence is logged once under its uid. Action phrases fan
// out to strategy_tasks, one entry per subscribed strategy that may open.
// Exit phrases, and action phrases seen by reverse strategies, go to
// exit_signals for the position follower.
package router

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the storage used by the router.
type Store interface {
	GetSymbol(ctx context.Context, symbol string) (types.Symbol, error)
	ListSignals(ctx context.Context) ([]types.Signal, error)
	ListStrategySignals(ctx context.Context) ([]types.StrategySignal, error)
	ListStrategies(ctx context.Context) ([]types.Strategy, error)
	InsertSignalLog(ctx context.Context, log types.SignalLog) (id int64, inserted bool, err error)
	SignalLogByUID(ctx context.Context, uid string) (types.SignalLog, error)
	UpdateSignalLogStatus(ctx context.Context, id int64, status types.SignalLogStatus) error
	RecordDispatch(ctx context.Context, logID, strategyID int64) error
	ListDispatches(ctx context.Context, logID int64) ([]int64, error)
}

type Options struct {
	RefreshInterval time.Duration
	Consumer        bus.ConsumerConfig
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		RefreshInterval: 5 * time.Minute,
		Consumer: bus.ConsumerConfig{
			Stream:   bus.StreamSignals,
			Group:    "router",
			Consumer: "router-1",
		},
		Now: time.Now,
	}
}

// table is the routing snapshot. It is replaced as a whole.
type table struct {
	phrases map[string]types.PhraseMatch
	// openers maps a signal id to the strategies that may open on it.
	openers map[int64][]int64
	// reversers maps a signal id to the reverse strategies subscribed to it.
	reversers map[int64][]int64
}

// Result describes what happened to one routed signal.
type Result struct {
	LogID  int64
	Status types.SignalLogStatus
	Tasks  int
	Exit   bool
}

type Router struct {
	store     Store
	tasks     bus.StreamWriter
	publisher bus.Publisher
	opts      Options
	logger    *logger.Logger

	table atomic.Pointer[table]
}

func New(store Store, tasks bus.StreamWriter, publisher bus.Publisher, opts Options, log *logger.Logger) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Router{
		store:     store,
		tasks:     tasks,
		publisher: publisher,
		opts:      opts,
		logger:    log.Named("router"),
	}
	r.table.Store(&table{
		phrases:   map[string]types.PhraseMatch{},
		openers:   map[int64][]int64{},
		reversers: map[int64][]int64{},
	})

	return r
}

// Refresh rebuilds the phrase index and the subscription map.
func (r *Router) Refresh(ctx context.Context) error {
	signals, err := r.store.ListSignals(ctx)
	if err != nil {
		return err
	}

	edges, err := r.store.ListStrategySignals(ctx)
	if err != nil {
		return err
	}

	strategies, err := r.store.ListStrategies(ctx)
	if err != nil {
		return err
	}

	next := &table{
		phrases:   make(map[string]types.PhraseMatch),
		openers:   make(map[int64][]int64),
		reversers: make(map[int64][]int64),
	}

	for _, sig := range signals {
		if !sig.Enabled {
			continue
		}

		for _, phrase := range sig.Phrases() {
			if prev, dup := next.phrases[phrase]; dup {
				r.logger.Warn("Phrase defined twice, keeping the first",
					zap.String("phrase", phrase),
					zap.Int64("signal", prev.Signal.ID),
					zap.Int64("ignored_signal", sig.ID),
				)

				continue
			}

			m, _ := sig.Match(phrase)
			next.phrases[phrase] = m
		}
	}

	byID := make(map[int64]types.Strategy, len(strategies))
	for _, st := range strategies {
		byID[st.ID] = st
	}

	for _, edge := range edges {
		st, ok := byID[edge.StrategyID]
		if !ok || edge.Role != types.SignalTypeAction {
			continue
		}

		if st.CanOpen() {
			next.openers[edge.SignalID] = append(next.openers[edge.SignalID], st.ID)
		}

		if st.Enabled && !st.Archived && st.Reverse {
			next.reversers[edge.SignalID] = append(next.reversers[edge.SignalID], st.ID)
		}
	}

	r.table.Store(next)
	r.logger.Debug("Routing table refreshed", zap.Int("phrases", len(next.phrases)), zap.Int("edges", len(edges)))

	return nil
}

// Route logs sig once and dispatches it. Rejections come back as coded
// errors: SymbolNotFound, SymbolDisabled, UnknownPhrase, DuplicateSignal and
// MalformedSignal.
func (r *Router) Route(ctx context.Context, sig types.IncomingSignal) (Result, error) {
	if sig.Message == "" || sig.Symbol == "" {
		return Result{}, errors.New(errors.ErrCodeMalformedSignal, "signal needs a message and a symbol")
	}

	symbol := types.NormalizeSymbol(sig.Symbol)

	sym, err := r.store.GetSymbol(ctx, symbol)
	if err != nil {
		return Result{}, err
	}

	if !sym.Enabled() {
		return Result{}, errors.Newf(errors.ErrCodeSymbolDisabled, "symbol %s is disabled", symbol)
	}

	tbl := r.table.Load()

	match, ok := tbl.phrases[sig.Message]
	if !ok {
		return Result{}, errors.Newf(errors.ErrCodeUnknownPhrase, "no signal has phrase %q", sig.Message)
	}

	now := r.opts.Now().UTC()
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = now
	}

	if sig.BarTime.IsZero() {
		sig.BarTime = sig.ReceivedAt.Truncate(time.Minute)
	}

	uid := types.SignalUID(sig.Message, symbol, sig.BarTime)

	logID, resumed, err := r.claim(ctx, types.SignalLog{
		Phrase:     sig.Message,
		Symbol:     symbol,
		BarTime:    sig.BarTime,
		SentAt:     sig.SentAt,
		ReceivedAt: sig.ReceivedAt,
		Status:     types.SignalLogStatusNew,
		UID:        uid,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{LogID: logID}

	dispatched := map[int64]bool{}

	if resumed {
		ids, err := r.store.ListDispatches(ctx, logID)
		if err != nil {
			return res, err
		}

		for _, id := range ids {
			dispatched[id] = true
		}
	}

	switch match.Role {
	case types.SignalTypeExit:
		if err := r.publishExit(ctx, types.ExitSignal{
			Phrase:     sig.Message,
			Symbol:     symbol,
			Direction:  match.Direction,
			ReceivedAt: sig.ReceivedAt,
		}); err != nil {
			return res, err
		}

		res.Exit = true
	default:
		if reversers := tbl.reversers[match.Signal.ID]; len(reversers) > 0 {
			// the opposite side of a reverse strategy closes on this phrase
			if err := r.publishExit(ctx, types.ExitSignal{
				Phrase:     types.ActionTriggerSentinel,
				Symbol:     symbol,
				Direction:  match.Direction.Opposite(),
				Strategies: reversers,
				ReceivedAt: sig.ReceivedAt,
			}); err != nil {
				return res, err
			}

			res.Exit = true
		}

		for _, strategyID := range tbl.openers[match.Signal.ID] {
			if dispatched[strategyID] {
				res.Tasks++

				continue
			}

			task := types.StrategyTask{
				StrategyID: strategyID,
				Symbol:     symbol,
				Direction:  match.Direction,
				BarTime:    sig.BarTime,
				SentAt:     sig.SentAt,
				ReceivedAt: sig.ReceivedAt,
				LogID:      logID,
			}

			if _, err := r.tasks.Append(ctx, bus.StreamStrategyTasks, task); err != nil {
				return res, err
			}

			if err := r.store.RecordDispatch(ctx, logID, strategyID); err != nil {
				return res, err
			}

			res.Tasks++
		}
	}

	switch {
	case res.Tasks > 0:
		res.Status = types.SignalLogStatusRouted
	case res.Exit:
		res.Status = types.SignalLogStatusExit
	default:
		res.Status = types.SignalLogStatusNoRoute
	}

	if err := r.store.UpdateSignalLogStatus(ctx, logID, res.Status); err != nil {
		return res, err
	}

	return res, nil
}

// claim inserts the signal log. A uid already logged is a duplicate unless
// its routing never finished, in which case routing resumes on the same row
// and resumed is true.
func (r *Router) claim(ctx context.Context, log types.SignalLog) (id int64, resumed bool, err error) {
	id, inserted, err := r.store.InsertSignalLog(ctx, log)
	if err != nil {
		return 0, false, err
	}

	if inserted {
		return id, false, nil
	}

	existing, err := r.store.SignalLogByUID(ctx, log.UID)
	if err != nil {
		return 0, false, err
	}

	if existing.Status != types.SignalLogStatusNew {
		return 0, false, errors.Newf(errors.ErrCodeDuplicateSignal, "signal %s %s at %s already logged as %d",
			log.Phrase, log.Symbol, log.BarTime.Format(time.RFC3339), existing.ID)
	}

	r.logger.Info("Resuming unfinished signal", zap.Int64("log_id", existing.ID), zap.String("uid", log.UID))

	return existing.ID, true, nil
}

func (r *Router) publishExit(ctx context.Context, exit types.ExitSignal) error {
	return r.publisher.Publish(ctx, bus.ChannelExitSignals, exit)
}

// HandleEntry routes one signals_stream entry. Rejected signals are logged
// and acknowledged; only transient failures come back to the consumer.
func (r *Router) HandleEntry(ctx context.Context, msg bus.StreamMessage) error {
	sig, err := ParseEntry(msg)
	if err != nil {
		metrics.Signals.WithLabelValues("malformed").Inc()
		r.logger.Warn("Dropping malformed signal entry", zap.String("id", msg.ID), zap.Error(err))

		return nil
	}

	fields := []zap.Field{
		zap.String("phrase", sig.Message),
		zap.String("symbol", sig.Symbol),
		zap.Time("bar_time", sig.BarTime),
	}

	res, err := r.Route(ctx, sig)

	switch {
	case err == nil:
		metrics.Signals.WithLabelValues(string(res.Status)).Inc()
		r.logger.Info("Signal routed", append(fields,
			zap.Int64("log_id", res.LogID),
			zap.String("status", string(res.Status)),
			zap.Int("tasks", res.Tasks),
		)...)

		return nil
	case errors.HasCode(err, errors.ErrCodeDuplicateSignal):
		metrics.Signals.WithLabelValues("duplicate").Inc()
		r.logger.Info("Duplicate signal dropped", append(fields, zap.Error(err))...)

		return nil
	case errors.HasCode(err, errors.ErrCodeSymbolNotFound),
		errors.HasCode(err, errors.ErrCodeSymbolDisabled),
		errors.HasCode(err, errors.ErrCodeUnknownPhrase),
		errors.HasCode(err, errors.ErrCodeMalformedSignal):
		metrics.Signals.WithLabelValues("rejected").Inc()
		r.logger.Warn("Signal rejected", append(fields, zap.Error(err))...)

		return nil
	default:
		metrics.Signals.WithLabelValues("error").Inc()

		return err
	}
}

// forward normalises a signal from incoming_signals into signals_stream so
// that both inputs share the consumer-group path.
func (r *Router) forward(ctx context.Context, msg bus.Message) error {
	var sig types.IncomingSignal
	if err := msg.Decode(&sig); err != nil {
		return err
	}

	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = r.opts.Now().UTC()
	}

	_, err := r.tasks.Append(ctx, bus.StreamSignals, sig)

	return err
}

// Run keeps the routing table fresh and consumes signals until ctx is done.
// Activation notifications trigger an immediate refresh.
func (r *Router) Run(ctx context.Context, consumer bus.StreamConsumer, sub bus.Subscriber) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Every(ctx, r.logger, "Routing table refresh", r.opts.RefreshInterval, r.Refresh)
	})

	g.Go(func() error {
		return sub.Listen(ctx, func(ctx context.Context, msg bus.Message) error {
			if msg.Channel == bus.ChannelIncomingSignals {
				return r.forward(ctx, msg)
			}

			return r.Refresh(ctx)
		}, bus.ChannelIncomingSignals, bus.ChannelSignalActivation, bus.ChannelStrategyActivation)
	})

	g.Go(func() error {
		return consumer.Consume(ctx, r.opts.Consumer, r.HandleEntry)
	})

	return g.Wait()
}
