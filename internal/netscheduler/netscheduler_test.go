package netscheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
)

func TestHandleFansOutPerOS(t *testing.T) {
	bus := mq.NewMemBus()
	s := New(bus, model.NetconfigBroadband)

	msg := model.NetconfigMessage{
		Srid:             "alice-deadbeef1234",
		OperatingSystems: []model.OperatingSystem{model.OSLinux, model.OSWindows},
		Tstamp:           1000,
		Ldap:             "alice",
	}
	require.NoError(t, bus.Publish(context.Background(), mqtopics.Netconfig(model.NetconfigBroadband), msg))
	delivery := receiveOne(t, bus, mqtopics.Netconfig(model.NetconfigBroadband))

	require.NoError(t, s.handle(context.Background(), delivery))

	for _, osName := range []model.OperatingSystem{model.OSLinux, model.OSWindows} {
		d := receiveOne(t, bus, mqtopics.Client(model.NetconfigBroadband, osName))
		var client model.ClientMessage
		require.NoError(t, d.Decode(&client))
		require.Equal(t, msg.Srid, client.Srid)
		require.Equal(t, model.NetconfigBroadband, client.Netconfig)
		require.Equal(t, msg.Tstamp, client.Tstamp)
	}
}

func receiveOne(t *testing.T, bus mq.Bus, queue string) mq.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got mq.Delivery
	received := make(chan struct{})
	go func() {
		_ = bus.Listen(ctx, queue, func(ctx context.Context, d mq.Delivery) error {
			got = d
			close(received)
			cancel()
			return nil
		})
	}()
	select {
	case <-received:
		return got
	case <-ctx.Done():
		t.Fatalf("timed out waiting for a message on %q", queue)
		return mq.Delivery{}
	}
}
