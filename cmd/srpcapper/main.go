// Command srpcapper is the per-machine packet-capture daemon: it serves
// the start/stop/retrieve HTTP API of §4.11 on port 7227. Grounded on
// internal/api's StartHTTPServer pattern, scaled down to pcapagent's
// single handler.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/observability"
	"github.com/oriys/stoneridge/internal/pcapagent"
)

const defaultAddr = ":7227"

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srpcapper",
		Short: "Stone Ridge packet-capture agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(daemonutil.ExitArgumentError)
			}
			return run(flags)
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to stoneridge config file")
	cmd.Flags().StringVar(&flags.LogPath, "log", "", "path to log file")
	cmd.Flags().BoolVar(&flags.NoDaemon, "nodaemon", false, "run in the foreground")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "pidfile path (mutually exclusive with --nodaemon)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(daemonutil.ExitStartupFailure)
	}
}

func run(flags daemonutil.Flags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.RedirectOpLog(flags.LogPath); err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if err := daemonutil.WritePidfile(flags.PidFile); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	defer daemonutil.RemovePidfile(flags.PidFile)

	initCtx := context.Background()
	if err := observability.Init(initCtx, observability.Config{
		Enabled:     cfg.GetBool("observability", "enabled", false),
		Exporter:    cfg.GetString("observability", "exporter", "otlp-http"),
		Endpoint:    cfg.GetString("observability", "endpoint", "localhost:4318"),
		ServiceName: "stoneridge-pcapper",
		SampleRate:  1.0,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(initCtx)

	agent := pcapagent.New(pcapagent.Config{
		ScratchRoot: cfg.GetString("pcapagent", "scratch_root", "/var/lib/stoneridge/pcap"),
		TCPDumpExe:  cfg.GetString("pcapagent", "tcpdump", "tcpdump"),
		Iface:       cfg.GetString("pcapagent", "iface", ""),
		OurMAC:      cfg.GetString("pcapagent", "our_mac", ""),
	})
	agent.Metrics = metrics.New("stoneridge")

	mux := http.NewServeMux()
	mux.Handle("/", agent.Handler())
	mux.Handle("/metrics", agent.Metrics.Handler())

	addr := cfg.GetString("pcapagent", "addr", defaultAddr)
	server := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()
	logging.Op().Info("pcapagent: listening", "addr", addr)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		_ = server.Shutdown(context.Background())
		cancel()
	}()

	err = <-serveErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("pcapagent: shutdown complete")
		return nil
	}
	return err
}
