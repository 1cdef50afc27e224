package dnsclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startFakeAgent(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		header := make([]byte, 2)
		conn.Read(header)
		if header[1] > 0 {
			payload := make([]byte, header[1])
			conn.Read(payload)
		}
		conn.Write([]byte(reply))
	}()

	return ln.Addr().String()
}

func TestSetSucceedsOnOKReply(t *testing.T) {
	addr := startFakeAgent(t, "ok")
	c := New(addr, false)
	require.NoError(t, c.Set(context.Background(), "10.0.0.1"))
}

func TestSetFailsOnNoReply(t *testing.T) {
	addr := startFakeAgent(t, "no")
	c := New(addr, false)
	require.Error(t, c.Set(context.Background(), "10.0.0.1"))
}

func TestSetSleepsOnWindows(t *testing.T) {
	addr := startFakeAgent(t, "ok")
	c := New(addr, true)
	var slept time.Duration
	c.sleep = func(d time.Duration) { slept = d }

	require.NoError(t, c.Set(context.Background(), "10.0.0.1"))
	require.Equal(t, windowsSettleDelay, slept)
}
