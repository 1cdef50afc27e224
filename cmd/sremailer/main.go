// Command sremailer is the mail-relay daemon: it serves POST /email and
// forwards to the local MTA, per §4.12. Grounded on cmd/srpcapper's
// daemon shape, scaled down to mailagent's single handler.
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
	"github.com/oriys/stoneridge/internal/mailagent"
)

const defaultAddr = ":7228"

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "sremailer",
		Short: "Stone Ridge mail relay agent",
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

	agent := mailagent.New(mailagent.Config{
		RelayAddr: cfg.GetString("mailagent", "relay_addr", "localhost:25"),
		From:      cfg.GetString("mailagent", "from", "stoneridge@localhost"),
	})

	addr := cfg.GetString("mailagent", "addr", defaultAddr)
	server := &http.Server{Addr: addr, Handler: agent.Handler()}

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
	logging.Op().Info("mailagent: listening", "addr", addr)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		_ = server.Shutdown(context.Background())
		cancel()
	}()

	err = <-serveErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("mailagent: shutdown complete")
		return nil
	}
	return err
}
