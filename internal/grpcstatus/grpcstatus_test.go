package grpcstatus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeProvider struct {
	snap Snapshot
}

func (f fakeProvider) Status() Snapshot { return f.snap }

func startServer(t *testing.T, provider Provider) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	Register(gs, provider)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	return lis.Addr().String()
}

func TestStatusRoundTripsSnapshot(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	addr := startServer(t, fakeProvider{snap: Snapshot{
		Srid:         "alice-deadbeef1234",
		Netconfig:    "broadband",
		OS:           "linux",
		Stage:        "runner",
		Since:        since,
		QueueBacklog: 3,
		Idle:         false,
	}})

	client, err := Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice-deadbeef1234", got.Srid)
	require.Equal(t, "broadband", got.Netconfig)
	require.Equal(t, "linux", got.OS)
	require.Equal(t, "runner", got.Stage)
	require.True(t, since.Equal(got.Since))
	require.Equal(t, 3, got.QueueBacklog)
	require.False(t, got.Idle)
}

func TestStatusReportsIdleWorker(t *testing.T) {
	addr := startServer(t, fakeProvider{snap: Snapshot{Idle: true}})

	client, err := Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.Status(ctx)
	require.NoError(t, err)
	require.True(t, got.Idle)
	require.Empty(t, got.Srid)
}
