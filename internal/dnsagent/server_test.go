package dnsagent

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	sets    []string
	resets  int
	failSet bool
}

func (b *fakeBackend) Set(dnsServer string) error {
	if b.failSet {
		return errors.New("boom")
	}
	b.sets = append(b.sets, dnsServer)
	return nil
}

func (b *fakeBackend) Reset() error {
	b.resets++
	return nil
}

func startTestServer(t *testing.T, backend Backend) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &Server{Backend: backend}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.handle(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func converseTest(t *testing.T, addr string, msgtype byte, payload string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{msgtype, byte(len(payload))})
	require.NoError(t, err)
	if payload != "" {
		_, err = conn.Write([]byte(payload))
		require.NoError(t, err)
	}

	reply := make([]byte, 2)
	_, err = conn.Read(reply)
	require.NoError(t, err)
	return string(reply)
}

func TestServerSetDispatchesToBackend(t *testing.T) {
	backend := &fakeBackend{}
	ln := startTestServer(t, backend)

	reply := converseTest(t, ln.Addr().String(), msgSet, "10.0.0.1")
	require.Equal(t, "ok", reply)
	require.Equal(t, []string{"10.0.0.1"}, backend.sets)
}

func TestServerResetDispatchesToBackend(t *testing.T) {
	backend := &fakeBackend{}
	ln := startTestServer(t, backend)

	reply := converseTest(t, ln.Addr().String(), msgReset, "")
	require.Equal(t, "ok", reply)
	require.Equal(t, 1, backend.resets)
}

func TestServerReportsBackendFailure(t *testing.T) {
	backend := &fakeBackend{failSet: true}
	ln := startTestServer(t, backend)

	reply := converseTest(t, ln.Addr().String(), msgSet, "10.0.0.1")
	require.Equal(t, "no", reply)
}
