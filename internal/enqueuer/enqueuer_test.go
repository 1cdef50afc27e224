package enqueuer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/intake"
)

type fakeSubmitter struct {
	requests []intake.PushRequest
	err      error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req intake.PushRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "ldap-" + req.Sha, nil
}

func TestPollEnqueuesEachListedEntry(t *testing.T) {
	var markedIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list_unhandled":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"pushid": 1, "ldap": "alice", "sha": "deadbeef1234", "netconfigs": []string{"broadband"}, "operating_systems": []string{"linux"}, "srid": "alice-deadbeef1234"},
				{"pushid": 2, "ldap": "bob", "sha": "cafebabe5678", "netconfigs": []string{"umts"}, "operating_systems": []string{"mac"}, "srid": "bob-cafebabe5678"},
			})
		case "/mark_handled":
			require.NoError(t, r.ParseForm())
			markedIDs = append(markedIDs, r.FormValue("id"))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	submitter := &fakeSubmitter{}
	e := New(Config{Root: srv.URL, Username: "u", Password: "p"}, submitter)
	e.Poll(context.Background())

	require.Equal(t, []string{"1", "2"}, markedIDs)
	require.Len(t, submitter.requests, 2)
	require.Equal(t, "alice-deadbeef1234", submitter.requests[0].Srid)
}

func TestPollAbortsCycleOnMarkHandledFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list_unhandled":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"pushid": 1, "ldap": "alice", "sha": "deadbeef1234", "netconfigs": []string{"broadband"}, "operating_systems": []string{"linux"}, "srid": "alice-deadbeef1234"},
				{"pushid": 2, "ldap": "bob", "sha": "cafebabe5678", "netconfigs": []string{"umts"}, "operating_systems": []string{"mac"}, "srid": "bob-cafebabe5678"},
			})
		case "/mark_handled":
			calls++
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	submitter := &fakeSubmitter{}
	e := New(Config{Root: srv.URL, Username: "u", Password: "p"}, submitter)
	e.Poll(context.Background())

	require.Equal(t, 1, calls, "cycle must abort after the first mark-handled failure")
	require.Empty(t, submitter.requests)
}

func TestPollToleratesListFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	submitter := &fakeSubmitter{}
	e := New(Config{Root: srv.URL, Username: "u", Password: "p"}, submitter)
	e.Poll(context.Background())

	require.Empty(t, submitter.requests)
}
