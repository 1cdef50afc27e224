package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/mailagent"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stoneridge.yaml")
	contents := "dns:\n" +
		"  canary_host: \"example.com\"\n" +
		"  canary_private_cidr: \"172.16.0.0/12\"\n" +
		"mailagent:\n" +
		"  to: \"stoneridge-alerts@mozilla.com\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestSanityCheckPassesForPrivateAddress(t *testing.T) {
	var sent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mailer := mailagent.NewClient(srv.URL)
	lookup := func(ctx context.Context, host string) ([]string, error) {
		return []string{"172.20.1.1"}, nil
	}

	err := sanityCheck(context.Background(), testConfig(t), mailer, "srid-1", lookup)
	require.NoError(t, err)
	require.False(t, sent, "no email should be sent on success")
}

func TestSanityCheckFailsAndEmailsOnPublicAddress(t *testing.T) {
	var sent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = true
		require.NoError(t, r.ParseForm())
		require.Equal(t, "stoneridge-alerts@mozilla.com", r.FormValue("to"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mailer := mailagent.NewClient(srv.URL)
	lookup := func(ctx context.Context, host string) ([]string, error) {
		return []string{"93.184.216.34"}, nil
	}

	err := sanityCheck(context.Background(), testConfig(t), mailer, "srid-2", lookup)
	require.Error(t, err)
	require.True(t, sent, "an email should be sent on a public resolution")
}

func TestSanityCheckFailsAndEmailsOnLookupError(t *testing.T) {
	var sent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mailer := mailagent.NewClient(srv.URL)
	lookup := func(ctx context.Context, host string) ([]string, error) {
		return nil, errors.New("no such host")
	}

	err := sanityCheck(context.Background(), testConfig(t), mailer, "srid-3", lookup)
	require.Error(t, err)
	require.True(t, sent)
}
