// Command srenqueuer polls an external submission tracker for unhandled
// pushes and feeds them onto the local intake queue, per §3.16/§4.15's
// srenqueuer.py counterpart. Grounded on cmd/srworker's daemon shape, with
// a ticker-driven poll loop instead of a blocking bus listen.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/enqueuer"
	"github.com/oriys/stoneridge/internal/intake"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/mq"
)

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srenqueuer",
		Short: "Stone Ridge submission-tracker poll loop",
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

	submitter := intake.NewServer(bus, intake.CredentialsFromConfig(cfg))

	e := enqueuer.New(enqueuer.Config{
		Root:     cfg.GetString("enqueuer", "root", ""),
		Username: cfg.GetString("enqueuer", "username", ""),
		Password: cfg.GetString("enqueuer", "password", ""),
	}, submitter)

	interval := time.Duration(cfg.GetInt("enqueuer", "poll_interval_seconds", 60)) * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	logging.Op().Info("enqueuer: polling", "root", cfg.GetString("enqueuer", "root", ""), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Op().Info("enqueuer: shutdown complete")
			return nil
		case <-ticker.C:
			e.Poll(ctx)
		}
	}
}
