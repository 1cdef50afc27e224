package master

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
)

type fakeCloner struct {
	ok       bool
	err      error
	requests []model.RunRequest
}

func (f *fakeCloner) Clone(ctx context.Context, req model.RunRequest) (bool, error) {
	f.requests = append(f.requests, req)
	return f.ok, f.err
}

func newDispatcher(bus mq.Bus, cloner ClonerInvoker) *Dispatcher {
	d := New(bus, cloner)
	d.sleep = func(time.Duration) {}
	return d
}

func TestHandleFansOutOnSuccess(t *testing.T) {
	bus := mq.NewMemBus()
	cloner := &fakeCloner{ok: true}
	d := newDispatcher(bus, cloner)

	req := model.RunRequest{
		Srid:             "alice-deadbeef1234",
		Ldap:             "alice",
		Sha:              "deadbeef1234ff",
		OperatingSystems: []model.OperatingSystem{model.OSLinux, model.OSMac},
		Netconfigs:       []model.Netconfig{model.NetconfigBroadband, model.NetconfigUMTS},
	}
	require.NoError(t, bus.Publish(context.Background(), "intake", req))

	delivery := receiveOne(t, bus, "intake")
	require.NoError(t, d.handle(context.Background(), delivery))
	require.Len(t, cloner.requests, 1)

	for _, queue := range []string{"netconfig.broadband", "netconfig.umts"} {
		fanout := receiveOne(t, bus, queue)
		var msg model.NetconfigMessage
		require.NoError(t, fanout.Decode(&msg))
		require.Equal(t, req.Srid, msg.Srid)
		require.Equal(t, req.OperatingSystems, msg.OperatingSystems)
	}
}

func TestHandleRecordsSubmittedAndDispatched(t *testing.T) {
	bus := mq.NewMemBus()
	cloner := &fakeCloner{ok: true}
	d := newDispatcher(bus, cloner)

	var statuses []string
	d.Record = func(ctx context.Context, srid, status, message string) {
		statuses = append(statuses, status)
	}

	req := model.RunRequest{
		Srid:             "alice-deadbeef1234",
		OperatingSystems: []model.OperatingSystem{model.OSLinux},
		Netconfigs:       []model.Netconfig{model.NetconfigBroadband},
	}
	require.NoError(t, bus.Publish(context.Background(), "intake", req))

	delivery := receiveOne(t, bus, "intake")
	require.NoError(t, d.handle(context.Background(), delivery))
	require.Equal(t, []string{"submitted", "dispatched"}, statuses)
}

func TestHandleDropsSilentlyOnClonerFailure(t *testing.T) {
	bus := mq.NewMemBus()
	cloner := &fakeCloner{ok: false}
	d := newDispatcher(bus, cloner)

	req := model.RunRequest{
		Srid:             "bob-cafebabe0000",
		Ldap:             "bob",
		Sha:              "cafebabe0000ff",
		OperatingSystems: []model.OperatingSystem{model.OSLinux},
		Netconfigs:       []model.Netconfig{model.NetconfigGSM},
	}
	require.NoError(t, bus.Publish(context.Background(), "intake", req))
	delivery := receiveOne(t, bus, "intake")

	require.NoError(t, d.handle(context.Background(), delivery))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := bus.Listen(ctx, "netconfig.gsm", func(ctx context.Context, d mq.Delivery) error {
		t.Fatal("no fan-out message should have been published")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleAssignsSridWhenAbsent(t *testing.T) {
	bus := mq.NewMemBus()
	cloner := &fakeCloner{ok: true}
	d := newDispatcher(bus, cloner)

	req := model.RunRequest{
		Nightly:          true,
		OperatingSystems: []model.OperatingSystem{model.OSWindows},
		Netconfigs:       []model.Netconfig{model.NetconfigBroadband},
	}
	require.NoError(t, bus.Publish(context.Background(), "intake", req))
	delivery := receiveOne(t, bus, "intake")

	require.NoError(t, d.handle(context.Background(), delivery))
	require.Len(t, cloner.requests, 1)
	require.NotEmpty(t, cloner.requests[0].Srid)
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
