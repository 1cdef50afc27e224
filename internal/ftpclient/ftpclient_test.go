package ftpclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePasvAddr(t *testing.T) {
	addr, err := parsePasvAddr("Entering Passive Mode (127,0,0,1,200,13).")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:51213", addr)
}

func TestParsePasvAddrMalformed(t *testing.T) {
	_, err := parsePasvAddr("nonsense")
	require.Error(t, err)
}

func TestParsePasvAddrWrongFieldCount(t *testing.T) {
	_, err := parsePasvAddr("Entering Passive Mode (127,0,0,1).")
	require.Error(t, err)
}
