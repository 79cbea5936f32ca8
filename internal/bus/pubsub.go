package bus

import (
	"context"
	"encoding/json"

	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

// Message is one pub/sub notification.
type Message struct {
	Channel string
	Payload []byte
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return errors.Wrapf(errors.ErrCodeMalformedEntry, err, "malformed message on %s", m.Channel)
	}

	return nil
}

// MessageHandler handles one notification. Errors are logged and the
// subscription continues.
type MessageHandler func(ctx context.Context, msg Message) error

// Listen subscribes to channels and calls handler for every message until
// ctx is done. A subscription closed by the broker returns ErrCodeUpstreamClosed
// so the supervisor can resubscribe.
func (b *Bus) Listen(ctx context.Context, handler MessageHandler, channels ...string) error {
	pubsub := b.client.Subscribe(ctx, channels...)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to subscribe to %v", channels)
	}

	b.logger.Info("Subscribed", zap.Strings("channels", channels))

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.Newf(errors.ErrCodeUpstreamClosed, "subscription to %v closed", channels)
			}

			msg := Message{Channel: m.Channel, Payload: []byte(m.Payload)}
			if err := handler(ctx, msg); err != nil {
				b.logger.Warn("Message handler failed",
					zap.String("channel", m.Channel),
					zap.Error(err),
				)
			}
		}
	}
}
