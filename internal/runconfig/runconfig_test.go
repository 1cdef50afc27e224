package runconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndLoadRoundtrip(t *testing.T) {
	rc := New().
		Set("netconfig", "broadband").
		Set("srid", "alice-deadbeef1234").
		SetInt("tstamp", 1700000000)

	path := filepath.Join(t.TempDir(), "run.ini")
	require.NoError(t, rc.WriteFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "broadband", loaded.Get("netconfig", ""))
	require.Equal(t, "alice-deadbeef1234", loaded.Get("srid", ""))
	require.Equal(t, int64(1700000000), loaded.GetInt("tstamp", 0))
}

func TestGetReturnsDefaultWhenUnset(t *testing.T) {
	rc := New()
	require.Equal(t, "fallback", rc.Get("missing", "fallback"))
	require.Equal(t, int64(42), rc.GetInt("missing", 42))
}
