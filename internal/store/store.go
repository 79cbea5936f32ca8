// Package store is the Postgres adapter. Writes that can race are idempotent
// upserts. Position and target mutations run inside a single transaction.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db     *sqlx.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DefaultPoolOptions sizes the pool for one pipeline process.
var DefaultPoolOptions = PoolOptions{MaxOpen: 20, MaxIdle: 5, MaxLifetime: 30 * time.Minute}

// Connect opens a pooled connection and pings the database.
func Connect(ctx context.Context, url string, opts PoolOptions, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to open connection", err)
	}

	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, errors.Wrap(errors.ErrCodeStoreTransient, "failed to ping database", err)
	}

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sqlx.DB, log *logger.Logger) *Store {
	return &Store{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: log.Named("store"),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapErr(err, "failed to apply schema")
		}
	}

	s.logger.Info("Schema applied", zap.Int("statements", len(SchemaStatements())))

	return nil
}

// SchemaStatements splits the embedded schema into single statements.
func SchemaStatements() []string {
	var out []string

	for _, part := range strings.Split(schemaSQL, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}

	return out
}

type execer interface {
	sqlx.ExtContext
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapErr(err, "failed to commit transaction")
	}

	return nil
}

func (s *Store) selectInto(ctx context.Context, q execer, dest any, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "failed to build query", err)
	}

	if err := sqlx.SelectContext(ctx, q, dest, query, args...); err != nil {
		return wrapErr(err, "query failed")
	}

	return nil
}

func (s *Store) getInto(ctx context.Context, q execer, dest any, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "failed to build query", err)
	}

	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		return wrapErr(err, "query failed")
	}

	return nil
}

func (s *Store) exec(ctx context.Context, q execer, b squirrel.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to build statement", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr(err, "statement failed")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // drivers without row counts
	}

	return n, nil
}

// wrapErr classifies a driver error. Missing rows map to ErrCodeDataNotFound,
// constraint violations to ErrCodeQueryFailed, everything else is transient.
func wrapErr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(errors.ErrCodeDataNotFound, message, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return errors.Wrap(errors.ErrCodeQueryFailed, message, err)
		}
	}

	return errors.Wrap(errors.ErrCodeStoreTransient, message, err)
}
