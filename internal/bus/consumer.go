package bus

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

// StreamHandler processes one entry. A nil error or a non-retryable error
// acks the entry. A retryable error leaves it pending for redelivery.
type StreamHandler func(ctx context.Context, msg StreamMessage) error

type ConsumerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	Count        int64
	Block        time.Duration
	ClaimMinIdle time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Count <= 0 {
		c.Count = 10
	}

	if c.Block <= 0 {
		c.Block = time.Second
	}

	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Minute
	}

	return c
}

// Consume runs a consumer-group loop on cfg.Stream until ctx is done.
// It first drains the consumer's own pending entries, then alternates
// between claiming idle entries of dead consumers and reading new ones.
func (b *Bus) Consume(ctx context.Context, cfg ConsumerConfig, handler StreamHandler) error {
	cfg = cfg.withDefaults()

	if err := b.EnsureGroup(ctx, cfg.Stream, cfg.Group); err != nil {
		return err
	}

	log := b.logger.With(
		zap.String("stream", cfg.Stream),
		zap.String("group", cfg.Group),
		zap.String("consumer", cfg.Consumer),
	)

	if err := b.drainPending(ctx, cfg, handler); err != nil {
		return err
	}

	log.Info("Consuming stream")

	var lastClaim time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastClaim) >= cfg.ClaimMinIdle {
			lastClaim = time.Now()

			claimed, err := b.ClaimIdle(ctx, cfg.Stream, cfg.Group, cfg.Consumer, cfg.ClaimMinIdle, cfg.Count)
			if err != nil {
				return err
			}

			if len(claimed) > 0 {
				log.Info("Claimed idle entries", zap.Int("count", len(claimed)))
			}

			b.dispatch(ctx, cfg, handler, claimed)
		}

		msgs, err := b.ReadGroup(ctx, cfg.Stream, cfg.Group, cfg.Consumer, ">", cfg.Count, cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		b.dispatch(ctx, cfg, handler, msgs)
	}
}

func (b *Bus) drainPending(ctx context.Context, cfg ConsumerConfig, handler StreamHandler) error {
	seen := make(map[string]struct{})

	for {
		msgs, err := b.ReadGroup(ctx, cfg.Stream, cfg.Group, cfg.Consumer, "0", cfg.Count, 0)
		if err != nil {
			return err
		}

		fresh := msgs[:0]

		for _, m := range msgs {
			if _, ok := seen[m.ID]; !ok {
				seen[m.ID] = struct{}{}
				fresh = append(fresh, m)
			}
		}

		// entries that failed again stay pending and show up on every read
		if len(fresh) == 0 {
			return nil
		}

		b.dispatch(ctx, cfg, handler, fresh)
	}
}

func (b *Bus) dispatch(ctx context.Context, cfg ConsumerConfig, handler StreamHandler, msgs []StreamMessage) {
	for _, m := range msgs {
		if ctx.Err() != nil {
			return
		}

		b.debugEntry("Handling entry", m)

		err := handler(ctx, m)
		if err != nil && errors.IsRetryable(err) {
			b.logger.Warn("Entry left pending after retryable failure",
				zap.String("stream", cfg.Stream),
				zap.String("id", m.ID),
				zap.Error(err),
			)

			continue
		}

		if err != nil {
			b.logger.Error("Dropping entry after failure",
				zap.String("stream", cfg.Stream),
				zap.String("id", m.ID),
				zap.Error(err),
			)
		}

		if ackErr := b.Ack(ctx, cfg.Stream, cfg.Group, m.ID); ackErr != nil {
			b.logger.Warn("Ack failed", zap.String("id", m.ID), zap.Error(ackErr))
		}
	}
}
