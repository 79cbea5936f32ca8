package export

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type fakeSource struct {
	positions []types.Position
	bars      map[string][]types.Bar
	err       error
}

func (f *fakeSource) ListClosedPositions(_ context.Context, _ time.Time) ([]types.Position, error) {
	return f.positions, f.err
}

func (f *fakeSource) GetBars(_ context.Context, symbol string, _ types.Timeframe, _ time.Time, _ time.Time) ([]types.Bar, error) {
	return f.bars[symbol], nil
}

type ExportTestSuite struct {
	suite.Suite
	tempDir string
}

func TestExportSuite(t *testing.T) {
	suite.Run(t, new(ExportTestSuite))
}

func (suite *ExportTestSuite) SetupTest() {
	suite.tempDir = suite.T().TempDir()
}

func closedPosition(id int64) types.Position {
	closedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hitAt := closedAt.Add(-time.Minute)

	return types.Position{
		ID:            id,
		StrategyID:    1,
		Symbol:        "BTCUSDT",
		Direction:     types.DirectionLong,
		EntryPrice:    decimal.RequireFromString("100"),
		Quantity:      decimal.RequireFromString("10"),
		NotionalValue: decimal.RequireFromString("1000"),
		Status:        types.PositionStatusClosed,
		PnL:           decimal.RequireFromString("7.5"),
		CloseReason:   types.CloseReasonSLTP,
		ExitPrice:     decimal.NewNullDecimal(decimal.RequireFromString("100")),
		CreatedAt:     closedAt.Add(-time.Hour),
		ClosedAt:      &closedAt,
		Targets: []types.PositionTarget{
			{ID: id * 10, PositionID: id, Type: types.TargetTypeTP, Level: 1, Price: decimal.NewNullDecimal(decimal.RequireFromString("101.5")), Quantity: decimal.RequireFromString("5"), Hit: true, HitAt: &hitAt, TriggerType: types.TriggerTypePrice},
			{ID: id*10 + 1, PositionID: id, Type: types.TargetTypeTP, Level: 2, Quantity: decimal.RequireFromString("3"), Canceled: true, TriggerType: types.TriggerTypeSignal, TriggerSignal: "BTC EXIT"},
		},
	}
}

func countParquet(path string) int {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return -1
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM read_parquet('" + path + "')").Scan(&n); err != nil {
		return -1
	}

	return n
}

func (suite *ExportTestSuite) TestExportPositionsAndBars() {
	source := &fakeSource{
		positions: []types.Position{closedPosition(1), closedPosition(2)},
		bars: map[string][]types.Bar{
			"BTCUSDT": {
				{Symbol: "BTCUSDT", OpenTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(2), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(2), Volume: decimal.NewFromInt(5), Source: types.BarSourceAggregated},
			},
		},
	}

	exporter := NewExporter(source, logger.NewNopLogger())

	res, err := exporter.Export(context.Background(), Options{
		OutputDir:    suite.tempDir,
		BarSymbols:   []string{"BTCUSDT"},
		BarTimeframe: types.TimeframeM5,
	})
	suite.Require().NoError(err)

	suite.Equal(2, res.Positions)
	suite.Equal(1, res.Bars)
	suite.Require().Len(res.Files, 3)
	suite.Equal(filepath.Join(res.Dir, "positions.parquet"), res.Files[0])

	for _, f := range res.Files {
		_, statErr := os.Stat(f)
		suite.NoError(statErr)
	}

	suite.Equal(2, countParquet(res.Files[0]))
	suite.Equal(4, countParquet(res.Files[1]))
	suite.Equal(1, countParquet(res.Files[2]))
}

func (suite *ExportTestSuite) TestExportSkipsEmptyTables() {
	exporter := NewExporter(&fakeSource{}, logger.NewNopLogger())

	res, err := exporter.Export(context.Background(), Options{OutputDir: suite.tempDir})
	suite.Require().NoError(err)
	suite.Empty(res.Files)
	suite.Zero(res.Positions)
}

func (suite *ExportTestSuite) TestExportValidation() {
	exporter := NewExporter(&fakeSource{}, logger.NewNopLogger())

	_, err := exporter.Export(context.Background(), Options{})
	suite.True(errors.HasCode(err, errors.ErrCodeMissingParameter))

	_, err = exporter.Export(context.Background(), Options{OutputDir: suite.tempDir, BarSymbols: []string{"BTCUSDT"}, BarTimeframe: "d1"})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
}

func (suite *ExportTestSuite) TestExportSourceError() {
	exporter := NewExporter(&fakeSource{err: errors.New(errors.ErrCodeStoreTransient, "down")}, logger.NewNopLogger())

	_, err := exporter.Export(context.Background(), Options{OutputDir: suite.tempDir})
	suite.True(errors.HasCode(err, errors.ErrCodeStoreTransient))
}

func (suite *ExportTestSuite) TestWriterLifecycle() {
	w := NewDuckDBWriter(suite.tempDir)

	suite.Error(w.WriteBar(types.Bar{}))

	_, err := w.Finalize()
	suite.Error(err)

	suite.NoError(w.Close())

	suite.Require().NoError(w.Initialize())
	suite.NoError(w.WritePosition(closedPosition(7)))
	suite.Equal(1, w.Rows("positions"))
	suite.Equal(2, w.Rows("position_targets"))
	suite.NoError(w.Close())
	suite.NoError(w.Close())
}
