package export

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/shopspring/decimal"
)

var exportTables = []string{"positions", "position_targets", "bars"}

var createExportTables = []string{`
CREATE TABLE positions (
	id BIGINT,
	strategy_id BIGINT,
	symbol TEXT,
	direction TEXT,
	entry_price DOUBLE,
	quantity DOUBLE,
	notional_value DOUBLE,
	pnl DOUBLE,
	commission DOUBLE,
	close_reason TEXT,
	exit_price DOUBLE,
	created_at TIMESTAMP,
	closed_at TIMESTAMP
)`, `
CREATE TABLE position_targets (
	id BIGINT,
	position_id BIGINT,
	type TEXT,
	level INTEGER,
	price DOUBLE,
	quantity DOUBLE,
	hit BOOLEAN,
	hit_at TIMESTAMP,
	canceled BOOLEAN,
	tp_trigger_type TEXT,
	trigger_signal TEXT
)`, `
CREATE TABLE bars (
	symbol TEXT,
	timeframe TEXT,
	open_time TIMESTAMP,
	open DOUBLE,
	high DOUBLE,
	low DOUBLE,
	close DOUBLE,
	volume DOUBLE,
	source TEXT
)`,
}

// DuckDBWriter stages rows in an in-memory DuckDB database and exports every
// non-empty table to <outputDir>/<table>.parquet on Finalize.
type DuckDBWriter struct {
	db           *sql.DB
	tx           *sql.Tx
	positionStmt *sql.Stmt
	targetStmt   *sql.Stmt
	barStmt      *sql.Stmt
	outputDir    string
	rows         map[string]int
}

func NewDuckDBWriter(outputDir string) *DuckDBWriter {
	return &DuckDBWriter{
		outputDir: outputDir,
		rows:      map[string]int{},
	}
}

// Initialize opens the staging database and prepares the insert statements.
func (w *DuckDBWriter) Initialize() (err error) {
	w.db, err = sql.Open("duckdb", "")
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to open DuckDB connection", err)
	}

	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	for _, ddl := range createExportTables {
		if _, err = w.db.Exec(ddl); err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create export tables", err)
		}
	}

	if w.tx, err = w.db.Begin(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin transaction", err)
	}

	if w.positionStmt, err = w.tx.Prepare(`INSERT INTO positions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare position insert", err)
	}

	if w.targetStmt, err = w.tx.Prepare(`INSERT INTO position_targets VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare target insert", err)
	}

	if w.barStmt, err = w.tx.Prepare(`INSERT INTO bars VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to prepare bar insert", err)
	}

	return nil
}

// WritePosition stages a position and all of its targets.
func (w *DuckDBWriter) WritePosition(p types.Position) error {
	if w.positionStmt == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "writer not initialized")
	}

	_, err := w.positionStmt.Exec(
		p.ID, p.StrategyID, p.Symbol, string(p.Direction),
		p.EntryPrice.InexactFloat64(), p.Quantity.InexactFloat64(), p.NotionalValue.InexactFloat64(),
		p.PnL.InexactFloat64(), p.Commission.InexactFloat64(), p.CloseReason,
		nullFloat(p.ExitPrice), p.CreatedAt.UTC(), nullTime(p.ClosedAt),
	)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to stage position %d", p.ID)
	}

	w.rows["positions"]++

	for _, t := range p.Targets {
		_, err := w.targetStmt.Exec(
			t.ID, t.PositionID, string(t.Type), t.Level, nullFloat(t.Price), t.Quantity.InexactFloat64(),
			t.Hit, nullTime(t.HitAt), t.Canceled, string(t.TriggerType), t.TriggerSignal,
		)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to stage target %d", t.ID)
		}

		w.rows["position_targets"]++
	}

	return nil
}

func (w *DuckDBWriter) WriteBar(b types.Bar) error {
	if w.barStmt == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "writer not initialized")
	}

	_, err := w.barStmt.Exec(
		b.Symbol, string(b.Timeframe), b.OpenTime.UTC(),
		b.Open.InexactFloat64(), b.High.InexactFloat64(), b.Low.InexactFloat64(), b.Close.InexactFloat64(),
		b.Volume.InexactFloat64(), string(b.Source),
	)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to stage %s bar", b.Symbol)
	}

	w.rows["bars"]++

	return nil
}

// Finalize commits the staged rows and writes one parquet file per non-empty table.
func (w *DuckDBWriter) Finalize() ([]string, error) {
	if w.tx == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "writer not initialized")
	}

	if err := w.tx.Commit(); err != nil {
		w.tx = nil

		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit export transaction", err)
	}

	w.tx = nil

	var paths []string

	for _, table := range exportTables {
		if w.rows[table] == 0 {
			continue
		}

		path := filepath.Join(w.outputDir, table+".parquet")
		if _, err := w.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, path)); err != nil {
			return paths, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to export %s to parquet", table)
		}

		paths = append(paths, path)
	}

	return paths, nil
}

// Rows returns how many rows were staged for table.
func (w *DuckDBWriter) Rows(table string) int {
	return w.rows[table]
}

// Close releases the statements and the database. It is safe to call twice.
func (w *DuckDBWriter) Close() error {
	for _, stmt := range []**sql.Stmt{&w.positionStmt, &w.targetStmt, &w.barStmt} {
		if *stmt != nil {
			_ = (*stmt).Close()
			*stmt = nil
		}
	}

	if w.tx != nil {
		_ = w.tx.Rollback()
		w.tx = nil
	}

	if w.db != nil {
		err := w.db.Close()
		w.db = nil

		if err != nil {
			return errors.Wrap(errors.ErrCodeUnknown, "failed to close DuckDB connection", err)
		}
	}

	return nil
}

func nullFloat(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}

	return d.Decimal.InexactFloat64()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC()
}
