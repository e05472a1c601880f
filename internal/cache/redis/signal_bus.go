package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

const (
	// exitStreamCap bounds stream:exits; trimming is approximate.
	exitStreamCap int64 = 10_000
	subscriberBuf       = 128
	payloadField        = "payload"
)

// SignalBus carries live position and candidate events over pub/sub and
// keeps the exit history in a stream.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe forwards messages on channel until ctx ends. A channel with glob
// characters becomes a PSUBSCRIBE.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.rdb.Subscribe
	if isGlob(channel) {
		sub = b.rdb.PSubscribe
	}
	ps := sub(ctx, channel)
	// Receive confirms the subscription before any publish can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuf)
	go forward(ctx, ps, out)
	return out, nil
}

func forward(ctx context.Context, ps *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer ps.Close()
	in := ps.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: exitStreamCap,
		Approx: true,
		Values: []any{payloadField, payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking.
// "0" reads from the start of the stream.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: xread %s: %w", stream, err)
	}

	return streamMessages(res), nil
}

func isGlob(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// streamMessages flattens XREAD results, skipping entries without a payload.
func streamMessages(res []redis.XStream) []domain.StreamMessage {
	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			switch p := m.Values[payloadField].(type) {
			case string:
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: []byte(p)})
			case []byte:
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: p})
			}
		}
	}
	return out
}

var _ domain.SignalBus = (*SignalBus)(nil)
