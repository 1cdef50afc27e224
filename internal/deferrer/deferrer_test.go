package deferrer

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
)

func TestRunRepublishesWithAttemptAsGiven(t *testing.T) {
	bus := mq.NewMemBus()
	d := New(bus, time.Hour)
	d.sleep = func(ctx context.Context, dur time.Duration) bool { return true } // instant

	req := model.RunRequest{Srid: "alice-deadbeef1234", Ldap: "alice", Sha: "deadbeef1234ff", Attempt: 1}

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(context.Background(), req) }()

	listenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got model.RunRequest
	received := make(chan struct{})
	go func() {
		_ = bus.Listen(listenCtx, "intake", func(ctx context.Context, delivery mq.Delivery) error {
			_ = delivery.Decode(&got)
			close(received)
			cancel()
			return nil
		})
	}()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for republished message")
	}
	require.NoError(t, <-runDone)

	require.Equal(t, req.Srid, got.Srid)
	require.Equal(t, 1, got.Attempt)
}

func TestRunReturnsEarlyOnCancel(t *testing.T) {
	bus := mq.NewMemBus()
	d := New(bus, time.Hour)
	d.sleep = func(ctx context.Context, dur time.Duration) bool { return false } // cancelled immediately

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, model.RunRequest{Srid: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRecordsDeferralMetricPerNetconfig(t *testing.T) {
	bus := mq.NewMemBus()
	d := New(bus, time.Hour)
	d.sleep = func(ctx context.Context, dur time.Duration) bool { return true }
	d.Metrics = metrics.New("deferrer_metric_test")

	req := model.RunRequest{Srid: "alice-deadbeef1234", Netconfigs: []model.Netconfig{model.NetconfigBroadband, model.NetconfigUMTS}}

	listenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		_ = bus.Listen(listenCtx, "intake", func(ctx context.Context, delivery mq.Delivery) error {
			cancel()
			return nil
		})
	}()

	require.NoError(t, d.Run(context.Background(), req))

	rec := httptest.NewRecorder()
	d.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `netconfig="broadband"`)
	require.Contains(t, body, `netconfig="umts"`)
}
