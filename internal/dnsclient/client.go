// Package dnsclient is the thin wrapper over the dnsagent wire protocol
// used by the dnsupdater stage (§4.10): converses with the local agent
// about a DNS server the caller has already resolved, and owns the Windows
// post-exchange settle sleep. Grounded on srdnsupdater.py's
// StoneRidgeDnsUpdater.
package dnsclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/observability"
	"github.com/oriys/stoneridge/internal/srerrors"
)

const windowsSettleDelay = 15 * time.Second

// Client talks to a dnsagent.Server over TCP.
type Client struct {
	Addr        string
	DialTimeout time.Duration
	IsWindows   bool
	// Metrics, if set, records each round trip's latency.
	Metrics *metrics.Collectors
	// sleep is overridable so tests don't pay the real 15s delay.
	sleep func(time.Duration)
}

// New builds a Client targeting addr (normally dnsagent.ListenAddr).
func New(addr string, isWindows bool) *Client {
	return &Client{Addr: addr, DialTimeout: 5 * time.Second, IsWindows: isWindows, sleep: time.Sleep}
}

// Set points DNS resolution at dnsServer.
func (c *Client) Set(ctx context.Context, dnsServer string) error {
	return c.converse(ctx, 's', dnsServer)
}

// Reset restores DNS resolution to its pre-Set state.
func (c *Client) Reset(ctx context.Context) error {
	return c.converse(ctx, 'r', "")
}

func (c *Client) converse(ctx context.Context, msgtype byte, payload string) (err error) {
	_, span := observability.StartSpan(ctx, "dnsclient.converse", attribute.String("msgtype", string(msgtype)))
	started := time.Now()
	defer func() {
		if c.Metrics != nil {
			c.Metrics.ObserveDNSRoundTrip(string(msgtype), float64(time.Since(started).Milliseconds()))
		}
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}()

	timeout := c.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", c.Addr, timeout)
	if err != nil {
		return fmt.Errorf("dnsclient: dial agent: %w: %w", err, srerrors.ErrDnsAgentUnreachable)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{msgtype, byte(len(payload))}); err != nil {
		return fmt.Errorf("dnsclient: write header: %w: %w", err, srerrors.ErrDnsAgentUnreachable)
	}
	if payload != "" {
		if _, err := conn.Write([]byte(payload)); err != nil {
			return fmt.Errorf("dnsclient: write payload: %w: %w", err, srerrors.ErrDnsAgentUnreachable)
		}
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("dnsclient: read reply: %w: %w", err, srerrors.ErrDnsAgentUnreachable)
	}
	if string(reply) != "ok" {
		return fmt.Errorf("dnsclient: agent replied %q: %w", reply, srerrors.ErrDnsAgentUnreachable)
	}

	sleep := c.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	if c.IsWindows {
		sleep(windowsSettleDelay)
	}
	return nil
}
