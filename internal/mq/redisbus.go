package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/stoneridge/internal/logging"
)

const (
	consumerGroup = "stoneridge"
	blockTimeout  = 2 * time.Second
	retryBackoff  = 500 * time.Millisecond
)

// RedisBus is the production Bus implementation: named queues are Redis
// Streams, consumed through a single shared consumer group so that
// prefetch=1 delivery and redelivery-on-crash both fall out of XREADGROUP's
// pending-entries-list semantics. The request/reply variant rides a plain
// Redis list (RPUSH/BLPOP), since a reply queue is a one-shot rendezvous
// rather than a durable log.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an already-configured *redis.Client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func streamKey(queue string) string { return "stoneridge:stream:" + queue }
func replyKey(queue string) string  { return "stoneridge:reply:" + queue }

// Publish XADDs msg, marshalled as JSON, onto queue's stream. Redis persists
// stream entries until trimmed or acknowledged-and-claimed, giving the
// durable delivery the bus contract requires.
func (b *RedisBus) Publish(ctx context.Context, queue string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mq: marshal message for %q: %w", queue, err)
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]any{"body": body, "created_at": time.Now().UnixNano()},
	}).Err()
}

// Listen runs a blocking XREADGROUP loop against queue with Count=1
// (prefetch=1): it claims one pending entry or reads one new entry, invokes
// handler, and XACKs only on success. On any Redis error other than a
// timeout it logs, backs off, and retries, so a broker restart is survived
// without operator intervention.
func (b *RedisBus) Listen(ctx context.Context, queue string, handler Handler) error {
	stream := streamKey(queue)
	if err := b.ensureGroup(ctx, stream); err != nil {
		return err
	}
	consumer := uuid.NewString()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Op().Warn("mq: redis read failed, retrying", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				d := deliveryFromStream(queue, msg)
				if err := handler(ctx, d); err != nil {
					logging.Op().Warn("mq: handler failed, message left pending for redelivery", "queue", queue, "id", msg.ID, "error", err)
					continue
				}
				if err := b.client.XAck(ctx, stream, consumerGroup, msg.ID).Err(); err != nil {
					logging.Op().Warn("mq: ack failed", "queue", queue, "id", msg.ID, "error", err)
				}
			}
		}
	}
}

func deliveryFromStream(queue string, msg redis.XMessage) Delivery {
	d := Delivery{ID: msg.ID, Queue: queue, Attempt: 1, CreatedAt: time.Now()}
	if body, ok := msg.Values["body"]; ok {
		switch v := body.(type) {
		case string:
			d.Body = json.RawMessage(v)
		case []byte:
			d.Body = json.RawMessage(v)
		}
	}
	if v, ok := msg.Values["correlation_id"].(string); ok {
		d.CorrelationID = v
	}
	if v, ok := msg.Values["reply_to"].(string); ok {
		d.ReplyTo = v
	}
	return d
}

func (b *RedisBus) ensureGroup(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("mq: create consumer group for %q: %w", stream, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Call publishes msg onto queue tagged with a fresh correlation id and a
// private reply-to list key, then BLPOPs that list until a reply arrives or
// timeout elapses.
func (b *RedisBus) Call(ctx context.Context, queue string, msg any, timeout time.Duration) (json.RawMessage, error) {
	correlationID := uuid.NewString()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mq: marshal call message for %q: %w", queue, err)
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]any{
			"body":           body,
			"created_at":     time.Now().UnixNano(),
			"correlation_id": correlationID,
			"reply_to":       correlationID,
		},
	}).Err(); err != nil {
		return nil, err
	}

	key := replyKey(correlationID)
	res, err := b.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCallTimeout
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, ErrCallTimeout
	}
	return json.RawMessage(res[1]), nil
}

// Reply RPUSHes payload onto d's reply-to list.
func (b *RedisBus) Reply(ctx context.Context, d Delivery, payload any) error {
	if d.ReplyTo == "" {
		return fmt.Errorf("mq: delivery %s has no reply-to queue", d.ID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mq: marshal reply for %q: %w", d.ReplyTo, err)
	}
	return b.client.RPush(ctx, replyKey(d.ReplyTo), body).Err()
}

// QueueLen reports queue's current stream length, i.e. how many entries
// (pending or not yet read) are waiting on it. Used by cmd/srworker to
// surface queue backlog through internal/grpcstatus.
func (b *RedisBus) QueueLen(ctx context.Context, queue string) (int64, error) {
	return b.client.XLen(ctx, streamKey(queue)).Result()
}

// Ping issues a Redis PING.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
