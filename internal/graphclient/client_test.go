package graphclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, host string) *Client {
	t.Helper()
	c := New(host, "stoneridge", Credentials{Key: "k", Secret: "s"})
	c.nonce = func() string { return "fixed-nonce" }
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestUploadReturnsOKOnExpectedStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Authorization"), "OAuth ")
		require.Contains(t, r.Header.Get("Authorization"), `oauth_consumer_key="k"`)
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"page":1}`, string(body))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "well-formed JSON stored"})
	}))
	defer srv.Close()

	c := newTestClient(t, strings.TrimPrefix(srv.URL, "https://"))
	c.HTTPClient = srv.Client()

	ok, err := c.Upload(context.Background(), json.RawMessage(`{"page":1}`))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUploadReturnsNotOKOnUnexpectedStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "rejected"})
	}))
	defer srv.Close()

	c := newTestClient(t, strings.TrimPrefix(srv.URL, "https://"))
	c.HTTPClient = srv.Client()

	ok, err := c.Upload(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUploadErrorsOnNon200(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, strings.TrimPrefix(srv.URL, "https://"))
	c.HTTPClient = srv.Client()

	_, err := c.Upload(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestSignatureIsDeterministicForFixedInputs(t *testing.T) {
	c := newTestClient(t, "example.com")
	params := c.oauthParams()
	sig1 := c.sign("POST", "https://example.com/project/stoneridge/", params)
	sig2 := c.sign("POST", "https://example.com/project/stoneridge/", params)
	require.Equal(t, sig1, sig2)
	require.NotEmpty(t, sig1)
}
