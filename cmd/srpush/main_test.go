package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/model"
)

func TestExpandNetconfigsAll(t *testing.T) {
	nc, err := expandNetconfigs([]string{"all"})
	require.NoError(t, err)
	require.Equal(t, model.AllNetconfigs, nc)
}

func TestExpandNetconfigsRejectsUnknown(t *testing.T) {
	_, err := expandNetconfigs([]string{"dialup"})
	require.Error(t, err)
}

func TestExpandOperatingSystemsExplicit(t *testing.T) {
	osList, err := expandOperatingSystems([]string{"linux", "mac"})
	require.NoError(t, err)
	require.Equal(t, []model.OperatingSystem{model.OSLinux, model.OSMac}, osList)
}

func TestPushRejectsShortSha(t *testing.T) {
	_, err := push("", "short", []string{"broadband"}, []string{"linux"}, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
}

func TestLoadCredentialsPrefersEnvOverPrompt(t *testing.T) {
	t.Setenv("SRPUSH_HOST", "example.test")
	t.Setenv("SRPUSH_LDAP", "alice")
	t.Setenv("SRPUSH_PASSWORD", "hunter2")

	host, ldap, password := loadCredentials("", strings.NewReader(""), &bytes.Buffer{})
	require.Equal(t, "example.test", host)
	require.Equal(t, "alice", ldap)
	require.Equal(t, "hunter2", password)
}

func TestExtractSridDecodesResponse(t *testing.T) {
	srid, err := extractSrid([]byte(`{"srid":"alice-deadbeef1234"}`))
	require.NoError(t, err)
	require.Equal(t, "alice-deadbeef1234", srid)
}

func TestSubmitPushPostsFormAndReturnsSrid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "deadbeef1234ff", r.FormValue("sha"))
		require.Equal(t, []string{"broadband"}, r.Form["netconfig"])
		require.Equal(t, []string{"linux"}, r.Form["operating_system"])
		ldap, password, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "alice", ldap)
		require.Equal(t, "hunter2", password)
		_, _ = w.Write([]byte(`{"srid":"alice-deadbeef1234ff"}`))
	}))
	defer srv.Close()

	srid, err := submitPush(srv.Client(), srv.URL+"/srpush", "deadbeef1234ff", "alice", "hunter2",
		[]model.Netconfig{model.NetconfigBroadband}, []model.OperatingSystem{model.OSLinux})
	require.NoError(t, err)
	require.Equal(t, "alice-deadbeef1234ff", srid)
}

func TestSubmitPushReturnsErrorOnNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := submitPush(srv.Client(), srv.URL+"/srpush", "deadbeef1234ff", "alice", "wrong", nil, nil)
	require.Error(t, err)
}
