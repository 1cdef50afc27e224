// Command srwebmq serves GET /get_next over HTTP: the Windows worker polls
// this endpoint since it cannot hold a long-lived bus connection behind an
// interface the DNS agent toggles. Per §4.15.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/bridge"
	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/logging"
)

const defaultAddr = ":7229"

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srwebmq",
		Short: "Stone Ridge Windows bus bridge (SQLite -> HTTP poll)",
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

	store, err := bridge.Open(cfg.GetString("bridge", "db_path", "/var/lib/stoneridge/bridge.sqlite"))
	if err != nil {
		return fmt.Errorf("open bridge store: %w", err)
	}
	defer store.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /get_next", func(w http.ResponseWriter, r *http.Request) {
		config, ok, err := store.Next(r.Context())
		if err != nil {
			logging.Op().Error("webmq: failed to claim next row", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(config))
	})

	addr := cfg.GetString("bridge", "webmq_addr", defaultAddr)
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
	logging.Op().Info("webmq: listening", "addr", addr)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		_ = server.Shutdown(context.Background())
		cancel()
	}()

	err = <-serveErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("webmq: shutdown complete")
		return nil
	}
	return err
}
