package mq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pingMsg struct {
	SRID string `json:"srid"`
}

func TestMemBusPublishListen(t *testing.T) {
	bus := NewMemBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Delivery, 1)
	go func() {
		_ = bus.Listen(ctx, "intake", func(ctx context.Context, d Delivery) error {
			received <- d
			return nil
		})
	}()

	require.NoError(t, bus.Publish(ctx, "intake", pingMsg{SRID: "user-abcdef012345"}))

	select {
	case d := <-received:
		var m pingMsg
		require.NoError(t, d.Decode(&m))
		require.Equal(t, "user-abcdef012345", m.SRID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemBusCallReply(t *testing.T) {
	bus := NewMemBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = bus.Listen(ctx, "broadband", func(ctx context.Context, d Delivery) error {
			return bus.Reply(ctx, d, map[string]bool{"ok": true})
		})
	}()

	reply, err := bus.Call(ctx, "broadband", pingMsg{SRID: "nightly-xyz"}, time.Second)
	require.NoError(t, err)

	var parsed map[string]bool
	require.NoError(t, json.Unmarshal(reply, &parsed))
	require.True(t, parsed["ok"])
}

func TestMemBusCallTimesOut(t *testing.T) {
	bus := NewMemBus()
	ctx := context.Background()

	_, err := bus.Call(ctx, "umts", pingMsg{SRID: "no-listener"}, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCallTimeout)
}
