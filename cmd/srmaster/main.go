// Command srmaster runs the master dispatcher: it drains the intake queue,
// invokes srcloner as a bounded subprocess per request, and on success fans
// the request out onto one queue per requested netconfig.
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
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/master"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/runstore"
)

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srmaster",
		Short: "Stone Ridge master dispatcher",
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

	cloner := master.SubprocessCloner{
		Binary:     cfg.GetString("master", "cloner_binary", "srcloner"),
		ConfigPath: flags.ConfigPath,
		Timeout:    time.Duration(cfg.GetInt("master", "cloner_timeout_seconds", 900)) * time.Second,
	}
	dispatcher := master.New(bus, cloner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if dsn := cfg.GetString("runstore", "dsn", ""); dsn != "" {
		audit, err := runstore.New(ctx, dsn)
		if err != nil {
			logging.Op().Warn("master: run-history audit trail disabled", "error", err)
		} else {
			defer audit.Close()
			dispatcher.Record = func(ctx context.Context, srid, status, message string) {
				if err := audit.Record(ctx, runstore.Record{Srid: srid, Status: runstore.Status(status), Message: message}); err != nil {
					logging.Op().Warn("master: failed to record run history", "srid", srid, "error", err)
				}
			}
		}
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- dispatcher.Listen(ctx) }()
	logging.Op().Info("master: listening on intake")

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	err = <-listenErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("master: shutdown complete")
		return nil
	}
	return err
}
