package dnsagent

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/oriys/stoneridge/internal/logging"
)

const ListenAddr = "127.0.0.1:63250"

const (
	msgSet   = 's'
	msgReset = 'r'
)

// Server speaks the fixed 2-byte-header wire protocol of §4.9/§6 over a
// single-threaded TCP accept loop, driving Backend on each exchange.
type Server struct {
	Backend Backend
}

// ListenAndServe blocks accepting connections on ListenAddr until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", ListenAddr)
	if err != nil {
		return fmt.Errorf("dnsagent: listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dnsagent: accept: %w", err)
		}
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		logging.Op().Warn("dnsagent: read header failed", "error", err)
		return
	}
	msgtype, dlen := header[0], int(header[1])

	payload := make([]byte, dlen)
	if dlen > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			logging.Op().Warn("dnsagent: read payload failed", "error", err)
			return
		}
	}

	var opErr error
	switch msgtype {
	case msgSet:
		opErr = s.Backend.Set(string(payload))
	case msgReset:
		opErr = s.Backend.Reset()
	default:
		opErr = fmt.Errorf("dnsagent: unknown message type %q", msgtype)
	}

	reply := "ok"
	if opErr != nil {
		logging.Op().Error("dnsagent: backend operation failed", "msgtype", string(msgtype), "error", opErr)
		reply = "no"
	}
	if _, err := conn.Write([]byte(reply)); err != nil {
		logging.Op().Warn("dnsagent: write reply failed", "error", err)
	}
}
