package ingestion

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/aggregator"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/rxtech-lab/argo-signals/pkg/marketdata/provider"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// SweepStore is the storage used by the offline sweeper.
type SweepStore interface {
	BarSymbols(ctx context.Context) ([]string, error)
	ExistingOpenTimes(ctx context.Context, symbol string, tf types.Timeframe, from time.Time, to time.Time) ([]time.Time, error)
	GetBars(ctx context.Context, symbol string, tf types.Timeframe, from time.Time, to time.Time) ([]types.Bar, error)
	UpsertBars(ctx context.Context, tf types.Timeframe, bars []types.Bar) error
	ReplaceBars(ctx context.Context, symbol string, tf types.Timeframe, from time.Time, to time.Time, replacement []types.Bar) error
}

// RecomputedTimeframes are rebuilt by the sweeper around every filled gap.
var RecomputedTimeframes = []types.Timeframe{types.TimeframeM5, types.TimeframeM15}

// Gap is a run of missing minutes [From, To] between two stored bars.
type Gap struct {
	Symbol string
	From   time.Time
	To     time.Time
}

// Minutes returns the number of missing minutes.
func (g Gap) Minutes() int {
	return int(g.To.Sub(g.From)/time.Minute) + 1
}

type SweepOptions struct {
	// Symbols limits the sweep. Empty sweeps every symbol with minute bars.
	Symbols      []string
	From         time.Time
	To           time.Time
	ShowProgress bool
}

type SweepReport struct {
	Symbols int
	Gaps    []Gap
	Filled  int
	Windows int
}

type Sweeper struct {
	store   SweepStore
	fetcher provider.KlineFetcher
	logger  *logger.Logger
}

func NewSweeper(store SweepStore, fetcher provider.KlineFetcher, log *logger.Logger) *Sweeper {
	return &Sweeper{store: store, fetcher: fetcher, logger: log.Named("sweeper")}
}

// FindGaps returns the runs of missing minutes between consecutive open
// times. times must be ascending.
func FindGaps(symbol string, times []time.Time) []Gap {
	var gaps []Gap

	for i := 1; i < len(times); i++ {
		prev, next := times[i-1].UTC(), times[i].UTC()
		if next.Sub(prev) > time.Minute {
			gaps = append(gaps, Gap{Symbol: symbol, From: prev.Add(time.Minute), To: next.Add(-time.Minute)})
		}
	}

	return gaps
}

// Sweep fills every intra-symbol gap in [From, To] from the historical
// endpoint and rebuilds the M5 and M15 windows the gaps touch.
func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	if opts.To.IsZero() {
		opts.To = time.Now().UTC()
	}

	if !opts.From.Before(opts.To) {
		return SweepReport{}, errors.Newf(errors.ErrCodeInvalidParameter, "sweep range is empty: %s to %s",
			opts.From.Format(time.RFC3339), opts.To.Format(time.RFC3339))
	}

	symbols := opts.Symbols
	if len(symbols) == 0 {
		var err error

		symbols, err = s.store.BarSymbols(ctx)
		if err != nil {
			return SweepReport{}, err
		}
	}

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.Default(int64(len(symbols)), "sweeping")
	} else {
		bar = progressbar.DefaultSilent(int64(len(symbols)), "sweeping")
	}

	report := SweepReport{Symbols: len(symbols)}

	for _, symbol := range symbols {
		symbol = types.NormalizeSymbol(symbol)

		if err := s.sweepSymbol(ctx, symbol, opts, &report); err != nil {
			return report, err
		}

		_ = bar.Add(1)
	}

	_ = bar.Finish()

	s.logger.Info("Sweep finished",
		zap.Int("symbols", report.Symbols),
		zap.Int("gaps", len(report.Gaps)),
		zap.Int("filled", report.Filled),
		zap.Int("windows", report.Windows),
	)

	return report, nil
}

func (s *Sweeper) sweepSymbol(ctx context.Context, symbol string, opts SweepOptions, report *SweepReport) error {
	times, err := s.store.ExistingOpenTimes(ctx, symbol, types.TimeframeM1, opts.From, opts.To)
	if err != nil {
		return err
	}

	for _, gap := range FindGaps(symbol, times) {
		report.Gaps = append(report.Gaps, gap)

		filled, err := s.fill(ctx, gap)
		if err != nil {
			return err
		}

		report.Filled += filled

		windows, err := s.recompute(ctx, gap)
		if err != nil {
			return err
		}

		report.Windows += windows

		s.logger.Debug("Gap swept",
			zap.String("symbol", symbol),
			zap.Time("from", gap.From),
			zap.Time("to", gap.To),
			zap.Int("filled", filled),
		)
	}

	return nil
}

// fill pages through the historical endpoint until the gap is covered.
func (s *Sweeper) fill(ctx context.Context, gap Gap) (int, error) {
	end := gap.To.Add(time.Minute - time.Millisecond)
	cursor := gap.From
	filled := 0

	for !cursor.After(gap.To) {
		bars, err := s.fetcher.FetchKlines(ctx, gap.Symbol, types.TimeframeM1.ExchangeInterval(), cursor, end, provider.MaxKlinesPerRequest)
		if err != nil {
			return filled, err
		}

		if len(bars) == 0 {
			break
		}

		for i := range bars {
			bars[i].Symbol = gap.Symbol
			bars[i].Timeframe = types.TimeframeM1
			bars[i].Source = types.BarSourceAPI
		}

		if err := s.store.UpsertBars(ctx, types.TimeframeM1, bars); err != nil {
			return filled, err
		}

		filled += len(bars)
		cursor = bars[len(bars)-1].OpenTime.Add(time.Minute)
	}

	return filled, nil
}

// recompute deletes and rebuilds every M5 and M15 window overlapping gap. A
// window that is still short after the fill is deleted only.
func (s *Sweeper) recompute(ctx context.Context, gap Gap) (int, error) {
	windows := 0

	for _, tf := range RecomputedTimeframes {
		for start := tf.Align(gap.From); !start.After(gap.To); start = start.Add(tf.Duration()) {
			until := start.Add(tf.Duration() - time.Minute)

			minutes, err := s.store.GetBars(ctx, gap.Symbol, types.TimeframeM1, start, until)
			if err != nil {
				return windows, err
			}

			var replacement []types.Bar

			agg, err := aggregator.Aggregate(gap.Symbol, tf, minutes)
			switch {
			case err == nil:
				replacement = []types.Bar{agg}
			case errors.IsInsufficientDataError(err):
				s.logger.Warn("Window still incomplete after fill",
					zap.String("symbol", gap.Symbol),
					zap.String("interval", string(tf)),
					zap.Time("from", start),
					zap.Int("minutes", len(minutes)),
				)
			default:
				return windows, err
			}

			if err := s.store.ReplaceBars(ctx, gap.Symbol, tf, start, start, replacement); err != nil {
				return windows, err
			}

			windows++
		}
	}

	return windows, nil
}
