package strategy

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"go.uber.org/zap"
)

// HandleClose is the position:close stream handler. It writes the
// position_closed system log for every closure reported by the follower.
func (r *Runtime) HandleClose(ctx context.Context, msg bus.StreamMessage) error {
	var closed types.PositionClosed
	if err := msg.Decode(&closed); err != nil {
		r.logger.Warn("Dropping malformed close entry", zap.String("id", msg.ID), zap.Error(err))

		return nil
	}

	if closed.ClosedAt.IsZero() {
		closed.ClosedAt = r.opts.Now().UTC()
	}

	err := r.store.InsertSystemLog(ctx, types.SystemLog{
		Action:     types.SystemActionPositionClosed,
		ActionFlag: types.ActionFlagInfo,
		Symbol:     closed.Symbol,
		PositionID: &closed.PositionID,
		Message:    fmt.Sprintf("closed by %s at %s, pnl %s", closed.Reason, closed.ExitPrice, closed.PnL),
		CreatedAt:  closed.ClosedAt,
	})
	if err != nil {
		return err
	}

	r.logger.Info("Position close recorded",
		zap.Int64("position_id", closed.PositionID),
		zap.String("symbol", closed.Symbol),
		zap.String("reason", closed.Reason),
		zap.String("pnl", closed.PnL.String()),
	)

	return nil
}
