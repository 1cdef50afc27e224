package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRecordedSamples(t *testing.T) {
	c := New("stoneridge_test")
	c.SetQueueDepth("client:broadband:linux", 4)
	c.ObserveStageDuration("runner", 12.5)
	c.IncDeferral("broadband")
	c.SetPCAPSessions(2)
	c.ObserveDNSRoundTrip("set", 3.2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "stoneridge_test_queue_depth")
	require.Contains(t, body, "stoneridge_test_stage_duration_seconds")
	require.Contains(t, body, "stoneridge_test_deferrals_total")
	require.Contains(t, body, "stoneridge_test_pcap_sessions_active 2")
	require.Contains(t, body, "stoneridge_test_dns_round_trip_milliseconds")
}
