// Package mq is the durable message bus that hinges stoneridge's pipeline
// together: submission intake publishes onto "intake", the master fans out
// onto per-netconfig queues, each scheduler fans out onto per-OS queues, and
// client workers publish results onto "outgoing". Every named queue in the
// pipeline is just a string passed to Publish/Listen — there is no
// pre-declared topology.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMessage reports an empty queue. Neither MemBus nor RedisBus returns
// it; both block in Listen until a message arrives.
var ErrNoMessage = errors.New("mq: no message available")

// ErrCallTimeout is returned by Call when no reply arrives before the
// deadline passes.
var ErrCallTimeout = errors.New("mq: call timed out waiting for reply")

// Delivery is a single message handed to a Listen handler.
type Delivery struct {
	ID            string
	Queue         string
	Body          json.RawMessage
	Attempt       int
	CorrelationID string
	ReplyTo       string
	CreatedAt     time.Time
}

// Decode unmarshals the delivery body into v.
func (d Delivery) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// Handler processes one Delivery. Returning a non-nil error withholds the
// ack so the broker redelivers the message; returning nil acks it.
type Handler func(ctx context.Context, d Delivery) error

// Bus abstracts the durable message queue stoneridge's daemons are built
// around. Implementations must provide at-least-once delivery with
// prefetch=1 semantics: Listen hands exactly one message to the handler at a
// time and only fetches the next after the handler returns.
type Bus interface {
	// Publish serialises msg as JSON and enqueues it durably onto queue.
	Publish(ctx context.Context, queue string, msg any) error

	// Listen runs a blocking consume loop against queue with prefetch=1.
	// On every delivery it invokes handler and acks only on success; on
	// broker connection loss it tears down and retries indefinitely until
	// ctx is cancelled, at which point Listen returns ctx.Err().
	Listen(ctx context.Context, queue string, handler Handler) error

	// Call implements the correlation-id request/reply variant: it
	// publishes msg onto queue tagged with a fresh correlation id and a
	// private reply-to queue, then blocks on that reply queue until a
	// matching reply arrives or timeout elapses. This contract exists so
	// the RPC variant of scheduler -> client worker dispatch stays
	// implementable, even though the chosen design uses asynchronous
	// fan-out instead (see the netscheduler and worker packages).
	Call(ctx context.Context, queue string, msg any, timeout time.Duration) (json.RawMessage, error)

	// Reply publishes payload onto the delivery's reply-to queue tagged
	// with its correlation id, completing a Call from the handler side.
	Reply(ctx context.Context, d Delivery, payload any) error

	// Ping verifies connectivity to the underlying broker.
	Ping(ctx context.Context) error

	// Close releases all resources held by the bus implementation.
	Close() error
}
