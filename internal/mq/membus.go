package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemBus is an in-process Bus backed by buffered channels, one per queue
// name, created lazily. It exists for unit tests that need a real Bus
// without a broker — it honours the prefetch=1 and Call/Reply contracts of
// Bus, but has no persistence and no redelivery on crash.
type MemBus struct {
	mu     sync.Mutex
	queues map[string]chan Delivery
	closed bool
}

// NewMemBus returns an empty MemBus.
func NewMemBus() *MemBus {
	return &MemBus{queues: make(map[string]chan Delivery)}
}

func (b *MemBus) queue(name string) chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan Delivery, 1024)
		b.queues[name] = ch
	}
	return ch
}

// Publish enqueues msg onto queue's channel, blocking if it is full.
func (b *MemBus) Publish(ctx context.Context, queue string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mq: marshal message for %q: %w", queue, err)
	}
	d := Delivery{ID: uuid.NewString(), Queue: queue, Body: body, Attempt: 1, CreatedAt: time.Now()}
	return b.enqueue(ctx, queue, d)
}

func (b *MemBus) enqueue(ctx context.Context, queue string, d Delivery) error {
	select {
	case b.queue(queue) <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen drains queue one Delivery at a time, invoking handler and looping
// until ctx is cancelled. A failed handler simply drops the message — MemBus
// has no redelivery, since it only backs tests that don't exercise retry.
func (b *MemBus) Listen(ctx context.Context, queue string, handler Handler) error {
	ch := b.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-ch:
			_ = handler(ctx, d)
		}
	}
}

// Call publishes msg onto queue with a fresh correlation id and reply-to
// queue, then waits for a matching Reply or for timeout to elapse.
func (b *MemBus) Call(ctx context.Context, queue string, msg any, timeout time.Duration) (json.RawMessage, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mq: marshal call message for %q: %w", queue, err)
	}
	correlationID := uuid.NewString()
	replyTo := "reply." + correlationID
	d := Delivery{ID: uuid.NewString(), Queue: queue, Body: body, Attempt: 1, CorrelationID: correlationID, ReplyTo: replyTo, CreatedAt: time.Now()}
	if err := b.enqueue(ctx, queue, d); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	replyCh := b.queue(replyTo)
	select {
	case reply := <-replyCh:
		return reply.Body, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrCallTimeout
	}
}

// Reply publishes payload onto d's reply-to queue tagged with its
// correlation id.
func (b *MemBus) Reply(ctx context.Context, d Delivery, payload any) error {
	if d.ReplyTo == "" {
		return fmt.Errorf("mq: delivery %s has no reply-to queue", d.ID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mq: marshal reply for %q: %w", d.ReplyTo, err)
	}
	reply := Delivery{ID: uuid.NewString(), Queue: d.ReplyTo, Body: body, CorrelationID: d.CorrelationID, CreatedAt: time.Now()}
	return b.enqueue(ctx, d.ReplyTo, reply)
}

// Ping succeeds until Close is called; MemBus has no external connectivity
// to verify.
func (b *MemBus) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("mq: bus is closed")
	}
	return nil
}

// Close marks the bus closed. Queued, undelivered messages are discarded.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
