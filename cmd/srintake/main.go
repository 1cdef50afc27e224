// Command srintake runs the submission intake HTTPS endpoint: it accepts a
// (sha, ldap, netconfigs, operating_systems) tuple over POST /srpush,
// assigns an SRID, and publishes a single message onto the intake queue.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/intake"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/mq"
)

const shutdownGrace = 10 * time.Second

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srintake",
		Short: "Stone Ridge submission intake service",
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

	bus := mq.NewRedisBus(redis.NewClient(&redis.Options{
		Addr: cfg.GetString("broker", "addr", "localhost:6379"),
	}))
	defer bus.Close()

	srv := intake.NewServer(bus, intake.CredentialsFromConfig(cfg))
	addr := cfg.GetString("intake", "addr", ":8443")
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		certFile := cfg.GetString("intake", "tls_cert", "")
		keyFile := cfg.GetString("intake", "tls_key", "")
		var err error
		if certFile != "" && keyFile != "" {
			err = httpServer.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logging.Op().Error("intake: http server error", "error", err)
		}
	}()
	logging.Op().Info("intake: listening", "addr", addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	daemonutil.WaitForShutdown(ctx)

	logging.Op().Info("intake: shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
