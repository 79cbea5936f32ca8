package store

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// ListSignals returns every signal. Null phrases come back empty.
func (s *Store) ListSignals(ctx context.Context) ([]types.Signal, error) {
	q := s.sq.Select(
		"id",
		"COALESCE(long_phrase, '') AS long_phrase",
		"COALESCE(short_phrase, '') AS short_phrase",
		"COALESCE(long_exit_phrase, '') AS long_exit_phrase",
		"COALESCE(short_exit_phrase, '') AS short_exit_phrase",
		"signal_type",
		"enabled",
	).From("signals").OrderBy("id")

	var out []types.Signal
	if err := s.selectInto(ctx, s.db, &out, q); err != nil {
		return nil, err
	}

	return out, nil
}

// ListStrategySignals returns every subscription edge.
func (s *Store) ListStrategySignals(ctx context.Context) ([]types.StrategySignal, error) {
	q := s.sq.Select("strategy_id", "signal_id", "role").From("strategy_signals")

	var out []types.StrategySignal
	if err := s.selectInto(ctx, s.db, &out, q); err != nil {
		return nil, err
	}

	return out, nil
}

// InsertSignalLog writes log unless its uid is already present. inserted is
// false for a duplicate.
func (s *Store) InsertSignalLog(ctx context.Context, log types.SignalLog) (id int64, inserted bool, err error) {
	q := s.sq.Insert("signal_logs").
		Columns("phrase", "symbol", "bar_time", "sent_at", "received_at", "status", "uid").
		Values(log.Phrase, log.Symbol, log.BarTime.UTC(), log.SentAt.UTC(), log.ReceivedAt.UTC(), string(log.Status), log.UID).
		Suffix("ON CONFLICT (uid) DO NOTHING RETURNING id")

	var ids []int64
	if err := s.selectInto(ctx, s.db, &ids, q); err != nil {
		return 0, false, err
	}

	if len(ids) == 0 {
		return 0, false, nil
	}

	return ids[0], true, nil
}

// UpdateSignalLogStatus sets the status of a signal log row.
func (s *Store) UpdateSignalLogStatus(ctx context.Context, id int64, status types.SignalLogStatus) error {
	q := s.sq.Update("signal_logs").Set("status", string(status)).Where(squirrel.Eq{"id": id})

	_, err := s.exec(ctx, s.db, q)

	return err
}

// SignalLogByUID fetches a log row by uid.
func (s *Store) SignalLogByUID(ctx context.Context, uid string) (types.SignalLog, error) {
	var out types.SignalLog

	q := s.sq.Select("id", "phrase", "symbol", "bar_time", "sent_at", "received_at", "status", "uid").
		From("signal_logs").
		Where(squirrel.Eq{"uid": uid})

	if err := s.getInto(ctx, s.db, &out, q); err != nil {
		return out, err
	}

	return out, nil
}

// RecordDispatch marks the strategy task of a signal log as appended for
// strategyID.
func (s *Store) RecordDispatch(ctx context.Context, logID, strategyID int64) error {
	q := s.sq.Insert("signal_log_dispatches").
		Columns("log_id", "strategy_id").
		Values(logID, strategyID).
		Suffix("ON CONFLICT DO NOTHING")

	_, err := s.exec(ctx, s.db, q)

	return err
}

// ListDispatches returns the strategies a signal log was already dispatched to.
func (s *Store) ListDispatches(ctx context.Context, logID int64) ([]int64, error) {
	var ids []int64

	q := s.sq.Select("strategy_id").From("signal_log_dispatches").
		Where(squirrel.Eq{"log_id": logID}).
		OrderBy("strategy_id")

	if err := s.selectInto(ctx, s.db, &ids, q); err != nil {
		return nil, err
	}

	return ids, nil
}

// InsertSignalLogEntry writes the terminal outcome of one strategy task.
func (s *Store) InsertSignalLogEntry(ctx context.Context, entry types.SignalLogEntry) error {
	if entry.LogID == 0 {
		return errors.New(errors.ErrCodeMissingParameter, "signal log entry needs a log id")
	}

	q := s.sq.Insert("signal_log_entries").
		Columns("log_id", "strategy_id", "status", "note", "created_at").
		Values(entry.LogID, entry.StrategyID, string(entry.Status), entry.Note, entry.CreatedAt.UTC())

	_, err := s.exec(ctx, s.db, q)

	return err
}

// InsertSystemLog appends a structured event.
func (s *Store) InsertSystemLog(ctx context.Context, entry types.SystemLog) error {
	q := s.sq.Insert("system_logs").
		Columns("action", "action_flag", "symbol", "position_id", "log_id", "message", "created_at").
		Values(entry.Action, entry.ActionFlag, entry.Symbol, entry.PositionID, entry.LogID, entry.Message, entry.CreatedAt.UTC())

	_, err := s.exec(ctx, s.db, q)

	return err
}
