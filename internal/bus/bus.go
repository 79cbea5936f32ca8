// Package bus is the event bus adapter: best-effort pub/sub notifications,
// at-least-once streams with consumer groups, and the key-value scratchpad.
// Every broker failure is returned as ErrCodeBusTransient.
package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"go.uber.org/zap"
)

// PayloadField is the stream field holding a JSON encoded payload.
const PayloadField = "payload"

// Publisher publishes best-effort notifications.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// StreamWriter appends entries to a stream.
type StreamWriter interface {
	Append(ctx context.Context, stream string, payload any) (string, error)
}

// Scratchpad is the key-value store for the latest prices and indicator values.
type Scratchpad interface {
	GetKey(ctx context.Context, key string) (string, bool, error)
	SetKey(ctx context.Context, key, value string, ttl time.Duration) error
}

// Subscriber delivers pub/sub notifications to a handler until ctx is done.
type Subscriber interface {
	Listen(ctx context.Context, handler MessageHandler, channels ...string) error
}

// StreamConsumer runs a consumer-group loop over one stream.
type StreamConsumer interface {
	Consume(ctx context.Context, cfg ConsumerConfig, handler StreamHandler) error
}

type Bus struct {
	client redis.UniversalClient
	logger *logger.Logger
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to the broker and pings it.
func New(ctx context.Context, opts Options, log *logger.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to connect to broker at %s", opts.Addr)
	}

	return NewWithClient(client, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, log *logger.Logger) *Bus {
	return &Bus{client: client, logger: log.Named("bus")}
}

func (b *Bus) Close() error {
	return b.client.Close()
}

// Publish JSON-encodes payload and publishes it on channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to publish on %s", channel)
	}

	return nil
}

// Append JSON-encodes payload into the payload field of a new stream entry.
func (b *Bus) Append(ctx context.Context, stream string, payload any) (string, error) {
	data, err := encode(payload)
	if err != nil {
		return "", err
	}

	return b.AppendFields(ctx, stream, map[string]any{PayloadField: data})
}

// AppendFields adds a flat entry to stream.
func (b *Bus) AppendFields(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to append to %s", stream)
	}

	return id, nil
}

// EnsureGroup creates group on stream (and the stream itself). An existing
// group is not an error.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to create group %s on %s", group, stream)
	}

	return nil
}

// ReadGroup reads up to count entries for consumer. id is ">" for new
// entries or "0" for the consumer's own pending entries. A timeout returns
// no entries and no error.
func (b *Bus) ReadGroup(ctx context.Context, stream, group, consumer, id string, count int64, block time.Duration) ([]StreamMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    block,
	}
	if id != ">" {
		// pending reads never block
		args.Block = -1
	}

	res, err := b.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to read %s as %s/%s", stream, group, consumer)
	}

	var out []StreamMessage

	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, newStreamMessage(s.Stream, m))
		}
	}

	return out, nil
}

// Ack acknowledges ids for group.
func (b *Bus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to ack %d entries on %s", len(ids), stream)
	}

	return nil
}

// ClaimIdle moves pending entries idle for at least minIdle to consumer and returns them.
func (b *Bus) ClaimIdle(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to list pending entries on %s", stream)
	}

	ids := make([]string, 0, len(pending))

	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}

	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to claim %d entries on %s", len(ids), stream)
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newStreamMessage(stream, m))
	}

	return out, nil
}

// GetKey reads a scratchpad key. A missing key returns ok=false.
func (b *Bus) GetKey(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to get %s", key)
	}

	return v, true, nil
}

// SetKey writes a scratchpad key. ttl 0 keeps it forever.
func (b *Bus) SetKey(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(errors.ErrCodeBusTransient, err, "failed to set %s", key)
	}

	return nil
}

// StreamMessage is one stream entry with its fields flattened to strings.
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]string
}

func newStreamMessage(stream string, m redis.XMessage) StreamMessage {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}

	return StreamMessage{Stream: stream, ID: m.ID, Values: values}
}

// Decode unmarshals the payload field into v.
func (m StreamMessage) Decode(v any) error {
	raw, ok := m.Values[PayloadField]
	if !ok {
		return errors.Newf(errors.ErrCodeMalformedEntry, "entry %s on %s has no payload", m.ID, m.Stream)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.Wrapf(errors.ErrCodeMalformedEntry, err, "entry %s on %s has a malformed payload", m.ID, m.Stream)
	}

	return nil
}

func encode(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidParameter, "failed to encode payload", err)
	}

	return string(data), nil
}

func (b *Bus) debugEntry(msg string, m StreamMessage) {
	b.logger.Debug(msg, zap.String("stream", m.Stream), zap.String("id", m.ID))
}
