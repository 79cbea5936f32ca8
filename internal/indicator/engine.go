package indicator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moznion/go-optional"
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

// Store is the storage used by the engine.
type Store interface {
	ListIndicatorInstances(ctx context.Context, enabledOnly bool) ([]types.IndicatorInstance, error)
	ListSymbols(ctx context.Context, enabledOnly bool) ([]types.Symbol, error)
	LastBars(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error)
	InsertIndicatorValues(ctx context.Context, values []types.IndicatorValue) (int64, error)
	TrimIndicatorValues(ctx context.Context, instanceID int64, symbol string, keep int) (int64, error)
}

type Options struct {
	// FrameBars is the number of bars loaded per (symbol, timeframe).
	FrameBars int
	// Workers bounds the calculators running at once for one event.
	Workers int
	// Retention is the number of values kept per instance, symbol and output.
	Retention       int
	RefreshInterval time.Duration
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		FrameBars:       250,
		Workers:         4,
		Retention:       300,
		RefreshInterval: 5 * time.Minute,
		Now:             time.Now,
	}
}

// snapshot is replaced as a whole on every refresh.
type snapshot struct {
	byTimeframe map[types.Timeframe][]types.IndicatorInstance
	symbols     map[string]types.Symbol
}

type frameKey struct {
	symbol string
	tf     types.Timeframe
}

type frame struct {
	openTime time.Time
	bars     []types.Bar
}

type Engine struct {
	store      Store
	registry   *Registry
	scratchpad bus.Scratchpad
	stream     bus.StreamWriter
	opts       Options
	logger     *logger.Logger

	snap atomic.Pointer[snapshot]

	mu     sync.Mutex
	frames map[frameKey]frame
}

func NewEngine(store Store, registry *Registry, scratchpad bus.Scratchpad, stream bus.StreamWriter, opts Options, log *logger.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	e := &Engine{
		store:      store,
		registry:   registry,
		scratchpad: scratchpad,
		stream:     stream,
		opts:       opts,
		logger:     log.Named("indicator"),
		frames:     make(map[frameKey]frame),
	}
	e.snap.Store(&snapshot{
		byTimeframe: map[types.Timeframe][]types.IndicatorInstance{},
		symbols:     map[string]types.Symbol{},
	})

	return e
}

// Refresh reloads enabled instances and symbols and swaps them in at once.
func (e *Engine) Refresh(ctx context.Context) error {
	instances, err := e.store.ListIndicatorInstances(ctx, true)
	if err != nil {
		return err
	}

	symbols, err := e.store.ListSymbols(ctx, true)
	if err != nil {
		return err
	}

	next := &snapshot{
		byTimeframe: make(map[types.Timeframe][]types.IndicatorInstance),
		symbols:     make(map[string]types.Symbol, len(symbols)),
	}

	for _, inst := range instances {
		if _, err := e.registry.Get(inst.Kind); err != nil {
			e.logger.Warn("Skipping instance of unknown kind", zap.Int64("instance", inst.ID), zap.String("kind", string(inst.Kind)))

			continue
		}

		next.byTimeframe[inst.Timeframe] = append(next.byTimeframe[inst.Timeframe], inst)
	}

	for _, s := range symbols {
		next.symbols[s.Symbol] = s
	}

	e.snap.Store(next)
	e.logger.Debug("Indicator instances refreshed", zap.Int("instances", len(instances)), zap.Int("symbols", len(symbols)))

	return nil
}

// Instances returns the enabled instances on tf.
func (e *Engine) Instances(tf types.Timeframe) []types.IndicatorInstance {
	return e.snap.Load().byTimeframe[tf]
}

func (e *Engine) cachedFrame(key frameKey) optional.Option[frame] {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.frames[key]
	if !ok {
		return optional.None[frame]()
	}

	return optional.Some(f)
}

// frameFor returns the bars ending at openTime. ok is false for events older
// than the cached frame.
func (e *Engine) frameFor(ctx context.Context, symbol string, tf types.Timeframe, openTime time.Time) (bars []types.Bar, ok bool, err error) {
	key := frameKey{symbol: symbol, tf: tf}

	if cached := e.cachedFrame(key); cached.IsSome() {
		f := cached.Unwrap()

		switch {
		case openTime.Before(f.openTime):
			e.logger.Warn("Ignoring out-of-order bar event",
				zap.String("symbol", symbol),
				zap.String("timeframe", string(tf)),
				zap.Time("open_time", openTime),
				zap.Time("cached_open_time", f.openTime),
			)

			return nil, false, nil
		case openTime.Equal(f.openTime):
			return f.bars, true, nil
		}
	}

	loaded, err := e.store.LastBars(ctx, symbol, tf, e.opts.FrameBars)
	if err != nil {
		return nil, false, err
	}

	// a replayed event can find later bars already stored
	end := sort.Search(len(loaded), func(i int) bool { return loaded[i].OpenTime.After(openTime) })
	loaded = loaded[:end]

	if len(loaded) == 0 || !loaded[len(loaded)-1].OpenTime.Equal(openTime) {
		return nil, false, errors.Newf(errors.ErrCodeDataNotFound, "%s %s bar at %s is not stored",
			symbol, tf, openTime.Format(time.RFC3339))
	}

	e.mu.Lock()
	e.frames[key] = frame{openTime: openTime, bars: loaded}
	e.mu.Unlock()

	return loaded, true, nil
}

// Handle runs every instance on the event's timeframe over the bar frame
// ending at the event's open time.
func (e *Engine) Handle(ctx context.Context, ev types.BarReady) error {
	symbol := types.NormalizeSymbol(ev.Symbol)
	openTime := ev.OpenTime.UTC()

	instances := e.Instances(ev.Timeframe)
	if len(instances) == 0 {
		return nil
	}

	sym, known := e.snap.Load().symbols[symbol]
	if !known {
		e.logger.Debug("Skipping bar of inactive symbol", zap.String("symbol", symbol))

		return nil
	}

	start := e.opts.Now()
	defer func() {
		metrics.IndicatorDuration.WithLabelValues(string(ev.Timeframe)).Observe(time.Since(start).Seconds())
	}()

	bars, ok, err := e.frameFor(ctx, symbol, ev.Timeframe, openTime)
	if err != nil || !ok {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, inst := range instances {
		g.Go(func() error {
			e.runInstance(gctx, inst, sym, bars)

			return gctx.Err()
		})
	}

	return g.Wait()
}

// runInstance calculates one instance and publishes its outputs. Failures are
// logged and counted; they never stop the other instances.
func (e *Engine) runInstance(ctx context.Context, inst types.IndicatorInstance, sym types.Symbol, bars []types.Bar) {
	fields := []zap.Field{
		zap.Int64("instance", inst.ID),
		zap.String("kind", string(inst.Kind)),
		zap.String("symbol", sym.Symbol),
		zap.String("timeframe", string(inst.Timeframe)),
	}

	calc, err := e.registry.Get(inst.Kind)
	if err != nil {
		metrics.IndicatorCalculations.WithLabelValues(string(inst.Kind), "error").Inc()
		e.logger.Error("No calculator for instance", append(fields, zap.Error(err))...)

		return
	}

	values, err := calc.Calculate(bars, inst, sym)
	if errors.IsInsufficientDataError(err) {
		metrics.IndicatorCalculations.WithLabelValues(string(inst.Kind), "insufficient").Inc()
		e.logger.Debug("Not enough bars yet", append(fields, zap.Error(err))...)

		return
	}

	if err != nil {
		metrics.IndicatorCalculations.WithLabelValues(string(inst.Kind), "error").Inc()
		e.logger.Error("Indicator calculation failed", append(fields, zap.Error(err))...)

		return
	}

	if err := e.publish(ctx, inst, sym.Symbol, bars[len(bars)-1].OpenTime, values); err != nil {
		metrics.IndicatorCalculations.WithLabelValues(string(inst.Kind), "error").Inc()
		e.logger.Error("Failed to publish indicator values", append(fields, zap.Error(err))...)

		return
	}

	metrics.IndicatorCalculations.WithLabelValues(string(inst.Kind), "ok").Inc()
}

func (e *Engine) publish(ctx context.Context, inst types.IndicatorInstance, symbol string, openTime time.Time, values map[string]decimal.Decimal) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	sort.Strings(names)

	rows := make([]types.IndicatorValue, 0, len(values))
	rendered := make(map[string]string, len(values))

	for _, name := range names {
		value := values[name]
		rendered[name] = value.String()

		key := types.IndicatorKey(symbol, inst.Timeframe, inst.Kind, name)
		if err := e.scratchpad.SetKey(ctx, key, value.String(), 0); err != nil {
			return err
		}

		rows = append(rows, types.IndicatorValue{
			InstanceID: inst.ID,
			Symbol:     symbol,
			OpenTime:   openTime,
			ParamName:  name,
			Value:      value,
		})
	}

	if _, err := e.store.InsertIndicatorValues(ctx, rows); err != nil {
		return err
	}

	if _, err := e.store.TrimIndicatorValues(ctx, inst.ID, symbol, e.opts.Retention); err != nil {
		return err
	}

	if !inst.StreamPublish {
		return nil
	}

	_, err := e.stream.Append(ctx, bus.StreamIndicatorsReady, types.IndicatorsReady{
		Symbol:       symbol,
		Timeframe:    inst.Timeframe,
		Indicator:    inst.Kind,
		Params:       inst.Params,
		Values:       rendered,
		OpenTime:     openTime,
		CalculatedAt: e.opts.Now().UTC(),
	})

	return err
}

// Run loads the instance snapshot, keeps it fresh and consumes bar-ready
// events until ctx is done.
func (e *Engine) Run(ctx context.Context, sub bus.Subscriber) error {
	if err := e.Refresh(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Every(ctx, e.logger, "Indicator refresh", e.opts.RefreshInterval, func(ctx context.Context) error {
			return e.Refresh(ctx)
		})
	})

	g.Go(func() error {
		channels := append([]string{bus.ChannelM1Ready}, bus.AggregatedReadyChannels()...)

		return sub.Listen(ctx, func(ctx context.Context, msg bus.Message) error {
			var ev types.BarReady
			if err := msg.Decode(&ev); err != nil {
				return err
			}

			if !ev.Timeframe.Valid() {
				return errors.Newf(errors.ErrCodeInvalidTimeframe, "bar event on %s has timeframe %q", msg.Channel, ev.Timeframe)
			}

			return e.Handle(ctx, ev)
		}, channels...)
	})

	return g.Wait()
}
