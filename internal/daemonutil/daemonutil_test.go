package daemonutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateMutuallyExclusive(t *testing.T) {
	require.NoError(t, Flags{NoDaemon: true}.Validate())
	require.NoError(t, Flags{PidFile: "/tmp/x.pid"}.Validate())
	require.Error(t, Flags{}.Validate())
	require.Error(t, Flags{NoDaemon: true, PidFile: "/tmp/x.pid"}.Validate())
}

func TestWriteAndRemovePidfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, WritePidfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	RemovePidfile(path)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
