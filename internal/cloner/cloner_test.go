package cloner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/model"
)

type fakeDeferrer struct {
	calls []model.RunRequest
}

func (f *fakeDeferrer) Defer(ctx context.Context, req model.RunRequest) error {
	f.calls = append(f.calls, req)
	return nil
}

func tryRequest() model.RunRequest {
	return model.RunRequest{
		Srid:             "alice-deadbeef1234",
		Ldap:             "alice",
		Sha:              "deadbeef1234ff",
		OperatingSystems: []model.OperatingSystem{model.OSLinux},
		Netconfigs:       []model.Netconfig{model.NetconfigBroadband},
		Attempt:          0,
	}
}

func TestExtractPrefix(t *testing.T) {
	files := []string{
		"firefox-99.0.en-US.linux-i686.tar.bz2",
		"firefox-99.0.en-US.linux-i686.checksums.asc",
	}
	prefix, err := extractPrefix(files)
	require.NoError(t, err)
	require.Equal(t, "firefox-99.0.en-US", prefix)
}

func TestExtractPrefixMissing(t *testing.T) {
	_, err := extractPrefix([]string{"somefile.txt"})
	require.Error(t, err)
}

func TestRunDefersWhenSubdirMissing(t *testing.T) {
	outdir := t.TempDir()
	deferrer := &fakeDeferrer{}
	c := New(Config{Host: "example.test", Root: "/builds", OutputRoot: outdir, MaxAttempts: 3}, deferrer)
	c.lister = func(host, path string) []string {
		return nil // nothing present upstream yet
	}

	err := c.Run(context.Background(), tryRequest())
	require.Error(t, err)
	require.Len(t, deferrer.calls, 1)
	require.Equal(t, 1, deferrer.calls[0].Attempt)
}

func TestRunExhaustsDeferrals(t *testing.T) {
	outdir := t.TempDir()
	deferrer := &fakeDeferrer{}
	c := New(Config{Host: "example.test", Root: "/builds", OutputRoot: outdir, MaxAttempts: 1}, deferrer)
	c.lister = func(host, path string) []string { return nil }

	req := tryRequest()
	req.Attempt = 1
	err := c.Run(context.Background(), req)
	require.Error(t, err)
	require.Empty(t, deferrer.calls)
}

func TestRunFetchesAndPrunes(t *testing.T) {
	const prefix = "firefox-99.0.en-US"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "tests.zip") {
			w.Write([]byte("test-zip-bytes"))
			return
		}
		w.Write([]byte("build-bytes"))
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	outdir := t.TempDir()
	// pre-seed an old directory to verify pruning keeps only the newest.
	old := filepath.Join(outdir, "stale-run")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	c := New(Config{Host: host, Scheme: "http", Root: "/builds", OutputRoot: outdir, Keep: 1, MaxAttempts: 3}, &fakeDeferrer{})
	c.client = srv.Client()
	listCalls := 0
	c.lister = func(host, path string) []string {
		listCalls++
		if listCalls == 1 {
			return []string{"try-linux", "try-linux64"}
		}
		return []string{prefix + ".linux-i686.tar.bz2", prefix + ".linux-i686.checksums.asc"}
	}

	req := tryRequest()
	require.NoError(t, c.Run(context.Background(), req))

	build := filepath.Join(outdir, req.Srid, "linux32", "firefox.tar.bz2")
	data, err := os.ReadFile(build)
	require.NoError(t, err)
	require.Equal(t, "build-bytes", string(data))

	tests := filepath.Join(outdir, req.Srid, "linux32", "tests.zip")
	data, err = os.ReadFile(tests)
	require.NoError(t, err)
	require.Equal(t, "test-zip-bytes", string(data))

	_, err = os.Stat(old)
	require.True(t, os.IsNotExist(err), "stale directory should have been pruned")
}

func TestRunNightlySkipsSubdirCheck(t *testing.T) {
	const prefix = "firefox-nightly"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	outdir := t.TempDir()
	c := New(Config{Host: host, Scheme: "http", Root: "/builds", OutputRoot: outdir, Keep: 50, MaxAttempts: 3}, &fakeDeferrer{})
	c.client = srv.Client()
	c.lister = func(host, path string) []string {
		return []string{prefix + ".mac.dmg", prefix + ".mac.checksums.asc"}
	}

	req := model.RunRequest{
		Srid:             "nightly-1234",
		Nightly:          true,
		OperatingSystems: []model.OperatingSystem{model.OSMac},
		Netconfigs:       []model.Netconfig{model.NetconfigBroadband},
	}
	require.NoError(t, c.Run(context.Background(), req))

	_, err := os.Stat(filepath.Join(outdir, req.Srid, "mac", "firefox.dmg"))
	require.NoError(t, err)
}
