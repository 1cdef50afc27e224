// Command srdns is the long-lived local DNS agent: it listens on
// dnsagent.ListenAddr for set/reset requests from srdnsupdater and drives
// the platform-specific DNS backend. Grounded on srdnsupdater.py's
// dnsupdaterd counterpart on the agent side, generalized to Go's
// build-tag-selected Backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/dnsagent"
	"github.com/oriys/stoneridge/internal/logging"
)

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srdns",
		Short: "Stone Ridge local DNS agent",
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

	backend, err := dnsagent.NewBackend(cfg.GetString("machine", "os", ""))
	if err != nil {
		return fmt.Errorf("build dns backend: %w", err)
	}
	srv := &dnsagent.Server{Backend: backend}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx)
	}()
	logging.Op().Info("dnsagent: listening", "addr", dnsagent.ListenAddr)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	err = <-serveErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("dnsagent: shutdown complete")
		return nil
	}
	return err
}
