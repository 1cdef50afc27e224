// Command srdnsupdater talks to the local DNS agent over its wire protocol
// to point the machine's DNS resolution at this netconfig's DNS server (or,
// with --restore, reset it back to normal) before and after a test run.
// After a successful switch it resolves a canary host and confirms the
// result lands in the configured private range, emailing an operator and
// aborting the stage otherwise. Grounded on srdnsupdater.py's
// StoneRidgeDnsUpdater and srdnscheck.py's check_private.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/dnsagent"
	"github.com/oriys/stoneridge/internal/dnsclient"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/mailagent"
	"github.com/oriys/stoneridge/internal/observability"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	var restore bool
	cmd := &cobra.Command{
		Use: "srdnsupdater",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags, restore)
		},
	}
	flags.Bind(cmd)
	cmd.Flags().BoolVar(&restore, "restore", false, "restore DNS server to default settings")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags stagecli.Flags, restore bool) error {
	cfg, rc, err := stagecli.Load(flags)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.GetBool("observability", "enabled", false),
		Exporter:    cfg.GetString("observability", "exporter", "otlp-http"),
		Endpoint:    cfg.GetString("observability", "endpoint", "localhost:4318"),
		ServiceName: "stoneridge-dnsupdater",
		SampleRate:  1.0,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(ctx)

	isWindows := cfg.GetString("machine", "os", "") == "windows"
	netconfig := rc.Get("netconfig", "")
	client := dnsclient.New(dnsagent.ListenAddr, isWindows)

	if restore {
		if err := client.Reset(ctx); err != nil {
			return err
		}
		logging.Op().Info("dnsupdater: reset complete")
		return nil
	}

	dnsServer := cfg.GetString("dns", netconfig, "")
	if dnsServer == "" {
		logging.Op().Error("dnsupdater: no dns server configured", "netconfig", netconfig)
		return fmt.Errorf("dnsupdater: no dns server for netconfig %s", netconfig)
	}

	if err := client.Set(ctx, dnsServer); err != nil {
		return err
	}
	logging.Op().Info("dnsupdater: set complete", "dns_server", dnsServer)

	mailer := mailagent.NewClient(cfg.GetString("mailagent", "url", "http://localhost:7228"))
	if err := sanityCheck(ctx, cfg, mailer, rc.Get("srid", ""), net.DefaultResolver.LookupHost); err != nil {
		return err
	}
	return nil
}

// sanityCheck resolves the configured canary host after the DNS switch and
// confirms it lands in the private test network. A lookup failure or a
// resolution outside the private range emails the operator and aborts the
// pipeline, matching srdnscheck.py's check_private. lookup is overridable so
// tests don't depend on real DNS resolution.
func sanityCheck(ctx context.Context, cfg *config.Config, mailer *mailagent.Client, srid string, lookup func(context.Context, string) ([]string, error)) error {
	host := cfg.GetString("dns", "canary_host", "example.com")
	_, privateNet, err := net.ParseCIDR(cfg.GetString("dns", "canary_private_cidr", "172.16.0.0/12"))
	if err != nil {
		return fmt.Errorf("dnsupdater: parse canary private cidr: %w", err)
	}

	notify := func(check string) {
		to := cfg.GetString("mailagent", "to", "stoneridge-alerts@mozilla.com")
		msg := fmt.Sprintf("The DNS update failed for the following run:\n\tSRID: %s\n\tCheck failed: %s\n", srid, check)
		if sendErr := mailer.Send(to, "DNS Update Failed", msg); sendErr != nil {
			logging.Op().Error("dnsupdater: failed to send failure email", "error", sendErr)
		}
	}

	ips, err := lookup(ctx, host)
	if err == nil && len(ips) == 0 {
		err = fmt.Errorf("no addresses returned for %s", host)
	}
	if err != nil {
		logging.Op().Error("dnsupdater: canary lookup failed", "host", host, "error", err)
		notify("gethostbyname")
		return fmt.Errorf("dnsupdater: canary lookup failed: %w", err)
	}

	ip := net.ParseIP(ips[0])
	if ip == nil || !privateNet.Contains(ip) {
		logging.Op().Error("dnsupdater: canary resolved outside private range", "host", host, "ip", ips[0])
		notify("private")
		return fmt.Errorf("dnsupdater: canary host %s resolved to %s, outside %s", host, ips[0], privateNet)
	}

	logging.Op().Info("dnsupdater: canary sanity check passed", "host", host, "ip", ips[0])
	return nil
}
