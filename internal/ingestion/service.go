// Package ingestion keeps one minute-bar task and one mark-price task running
// per enabled symbol, records missing minute bars and repairs them from the
// historical klines endpoint.
package ingestion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/rxtech-lab/argo-signals/pkg/marketdata/provider"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the storage used by the live ingestion tasks.
type Store interface {
	ListSymbols(ctx context.Context, enabledOnly bool) ([]types.Symbol, error)
	UpsertBar(ctx context.Context, bar types.Bar) error
	BarExists(ctx context.Context, symbol string, tf types.Timeframe, openTime time.Time) (bool, error)
	RecordMissing(ctx context.Context, symbol string, openTime time.Time) (bool, error)
	ListUnfixedMissing(ctx context.Context, limit int) ([]types.MissingBar, error)
	MarkMissingFixed(ctx context.Context, symbol string, openTime time.Time, fixedAt time.Time) error
}

type Options struct {
	RefreshInterval   time.Duration
	GapCheckInterval  time.Duration
	RepairInterval    time.Duration
	RepairBatch       int
	MarkPriceInterval time.Duration
	// ReconnectInitial and ReconnectMax bound the feed reconnect backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// ErrorDelay is the pause after a failure that is not a dropped connection.
	ErrorDelay time.Duration
	Now        func() time.Time
}

func DefaultOptions() Options {
	return Options{
		RefreshInterval:   5 * time.Minute,
		GapCheckInterval:  60 * time.Second,
		RepairInterval:    30 * time.Second,
		RepairBatch:       10,
		MarkPriceInterval: time.Second,
		ReconnectInitial:  time.Second,
		ReconnectMax:      30 * time.Second,
		ErrorDelay:        5 * time.Second,
		Now:               time.Now,
	}
}

type Service struct {
	store      Store
	publisher  bus.Publisher
	scratchpad bus.Scratchpad
	feed       provider.Feed
	fetcher    provider.KlineFetcher
	opts       Options
	logger     *logger.Logger

	mu     sync.Mutex
	root   context.Context
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	store Store,
	publisher bus.Publisher,
	scratchpad bus.Scratchpad,
	feed provider.Feed,
	fetcher provider.KlineFetcher,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:      store,
		publisher:  publisher,
		scratchpad: scratchpad,
		feed:       feed,
		fetcher:    fetcher,
		opts:       opts,
		logger:     log.Named("ingestion"),
		active:     make(map[string]context.CancelFunc),
	}
}

// Run reconciles the symbol set, follows ticker_activation and runs the gap
// checker and repair loop until ctx is done. Symbol tasks are stopped before
// Run returns.
func (s *Service) Run(ctx context.Context, sub bus.Subscriber) error {
	s.mu.Lock()
	s.root = ctx
	s.mu.Unlock()

	defer s.stopAll()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Every(gctx, s.logger, "Symbol refresh", s.opts.RefreshInterval, s.Reconcile)
	})
	g.Go(func() error {
		return s.listenActivations(gctx, sub)
	})
	g.Go(func() error {
		return supervisor.Every(gctx, s.logger, "Gap check", s.opts.GapCheckInterval, func(ctx context.Context) error {
			_, err := s.CheckMissing(ctx)

			return err
		})
	})
	g.Go(func() error {
		return supervisor.Every(gctx, s.logger, "Gap repair", s.opts.RepairInterval, func(ctx context.Context) error {
			_, err := s.RepairMissing(ctx)

			return err
		})
	})

	return g.Wait()
}

// Reconcile starts tasks for every enabled symbol that has none. Symbols that
// left the enabled set keep their tasks.
func (s *Service) Reconcile(ctx context.Context) error {
	symbols, err := s.store.ListSymbols(ctx, true)
	if err != nil {
		return err
	}

	started := 0

	for _, sym := range symbols {
		if s.Start(sym.Symbol) {
			started++
		}
	}

	s.logger.Debug("Symbols reconciled", zap.Int("enabled", len(symbols)), zap.Int("started", started))

	return nil
}

func (s *Service) listenActivations(ctx context.Context, sub bus.Subscriber) error {
	for {
		err := sub.Listen(ctx, func(ctx context.Context, msg bus.Message) error {
			var ev types.TickerActivation
			if err := msg.Decode(&ev); err != nil {
				return err
			}

			switch ev.Status {
			case types.SymbolStatusEnabled:
				s.Start(ev.Symbol)
			case types.SymbolStatusDisabled:
				s.Stop(ev.Symbol)
			default:
				return errors.Newf(errors.ErrCodeInvalidParameter, "unknown ticker status %q", ev.Status)
			}

			return nil
		}, bus.ChannelTickerActivation)

		if ctx.Err() != nil {
			return nil
		}

		s.logger.Info("Ticker activation subscription ended", zap.Error(err))

		if !supervisor.Sleep(ctx, s.opts.ErrorDelay) {
			return nil
		}
	}
}

// Start launches the minute-bar and mark-price tasks of symbol. It reports
// whether new tasks were started.
func (s *Service) Start(symbol string) bool {
	symbol = types.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil || s.root.Err() != nil {
		return false
	}

	if _, ok := s.active[symbol]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.root)
	s.active[symbol] = cancel

	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		s.runKlines(ctx, symbol)
	}()

	go func() {
		defer s.wg.Done()
		s.runMarkPrices(ctx, symbol)
	}()

	s.logger.Info("Symbol tasks started", zap.String("symbol", symbol))

	return true
}

// Stop cancels the tasks of symbol.
func (s *Service) Stop(symbol string) {
	symbol = types.NormalizeSymbol(symbol)

	s.mu.Lock()
	cancel, ok := s.active[symbol]
	delete(s.active, symbol)
	s.mu.Unlock()

	if ok {
		cancel()
		s.logger.Info("Symbol tasks stopped", zap.String("symbol", symbol))
	}
}

// ActiveSymbols returns the symbols with running tasks, sorted.
func (s *Service) ActiveSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.active))
	for symbol := range s.active {
		out = append(out, symbol)
	}

	sort.Strings(out)

	return out
}

func (s *Service) stopAll() {
	s.mu.Lock()
	for symbol, cancel := range s.active {
		cancel()
		delete(s.active, symbol)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
