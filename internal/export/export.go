// Package export writes closed positions, with their targets, and optionally
// bars to parquet files for offline analysis.
package export

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

// Source is the read side of the store used by an export.
type Source interface {
	ListClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error)
	GetBars(ctx context.Context, symbol string, tf types.Timeframe, from time.Time, to time.Time) ([]types.Bar, error)
}

type Options struct {
	// OutputDir receives one export-<uuid> directory per run.
	OutputDir string
	// Since selects positions closed at or after it.
	Since time.Time
	// BarSymbols, when set, also exports bars of BarTimeframe in [BarsFrom, BarsTo].
	BarSymbols   []string
	BarTimeframe types.Timeframe
	BarsFrom     time.Time
	BarsTo       time.Time
}

type Result struct {
	Dir       string
	Files     []string
	Positions int
	Bars      int
}

type Exporter struct {
	source Source
	logger *logger.Logger
}

func NewExporter(source Source, log *logger.Logger) *Exporter {
	return &Exporter{source: source, logger: log.Named("export")}
}

func (e *Exporter) Export(ctx context.Context, opts Options) (Result, error) {
	if opts.OutputDir == "" {
		return Result{}, errors.New(errors.ErrCodeMissingParameter, "output directory is required")
	}

	if len(opts.BarSymbols) > 0 && !opts.BarTimeframe.Valid() {
		return Result{}, errors.Newf(errors.ErrCodeInvalidTimeframe, "invalid bar timeframe %q", opts.BarTimeframe)
	}

	dir := filepath.Join(opts.OutputDir, "export-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "failed to create %s", dir)
	}

	positions, err := e.source.ListClosedPositions(ctx, opts.Since)
	if err != nil {
		return Result{}, err
	}

	w := NewDuckDBWriter(dir)
	if err := w.Initialize(); err != nil {
		return Result{}, err
	}
	defer w.Close()

	for _, p := range positions {
		if err := w.WritePosition(p); err != nil {
			return Result{}, err
		}
	}

	for _, symbol := range opts.BarSymbols {
		bars, err := e.source.GetBars(ctx, symbol, opts.BarTimeframe, opts.BarsFrom, opts.BarsTo)
		if err != nil {
			return Result{}, err
		}

		for _, b := range bars {
			b.Timeframe = opts.BarTimeframe
			if err := w.WriteBar(b); err != nil {
				return Result{}, err
			}
		}
	}

	files, err := w.Finalize()
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Dir:       dir,
		Files:     files,
		Positions: w.Rows("positions"),
		Bars:      w.Rows("bars"),
	}

	e.logger.Info("Export finished",
		zap.String("dir", dir),
		zap.Int("positions", res.Positions),
		zap.Int("bars", res.Bars),
		zap.Strings("files", files),
	)

	return res, nil
}
