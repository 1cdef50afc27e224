// Command srcleanerd is the standalone periodic work-root sweeper of
// §4.14, distinct from cmd/srcleaner's per-run pipeline stage. Named
// srcleanerd (not srcleaner) to avoid colliding with the existing
// pipeline-stage binary; see DESIGN.md. Grounded on
// _examples/original_source/srcleaner.py.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/cleaner"
	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/logging"
)

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srcleanerd",
		Short: "Stone Ridge standalone work-root cleaner",
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

	c := cleaner.New(cleaner.Config{
		WorkRoot: cfg.GetString("stoneridge", "work", "/var/lib/stoneridge/work"),
		Keep:     cfg.GetInt("cleaner", "keep", 50),
		Interval: time.Duration(cfg.GetInt("cleaner", "interval_seconds", 60)) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	logging.Op().Info("cleaner: running", "work_root", cfg.GetString("stoneridge", "work", ""))
	c.Run(ctx)
	logging.Op().Info("cleaner: shutdown complete")
	return nil
}
