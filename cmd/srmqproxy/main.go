// Command srmqproxy drains a netconfig's Windows client queue off the
// durable bus and inserts each message into the local SQLite bridge table,
// per §4.15. Grounded on cmd/srworker's listen-loop shape.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/bridge"
	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
)

func main() {
	flags := daemonutil.Flags{}
	var netconfig string

	cmd := &cobra.Command{
		Use:   "srmqproxy",
		Short: "Stone Ridge Windows bus bridge (bus -> SQLite)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(daemonutil.ExitArgumentError)
			}
			return run(flags, model.Netconfig(netconfig))
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to stoneridge config file")
	cmd.Flags().StringVar(&flags.LogPath, "log", "", "path to log file")
	cmd.Flags().BoolVar(&flags.NoDaemon, "nodaemon", false, "run in the foreground")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "pidfile path (mutually exclusive with --nodaemon)")
	cmd.Flags().StringVar(&netconfig, "netconfig", "", "netconfig whose windows queue this bridges")
	cmd.MarkFlagRequired("netconfig")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(daemonutil.ExitStartupFailure)
	}
}

func run(flags daemonutil.Flags, nc model.Netconfig) error {
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

	bus := mq.NewRedisBus(redis.NewClient(&redis.Options{
		Addr: cfg.GetString("broker", "addr", "localhost:6379"),
	}))
	defer bus.Close()

	queue := mqtopics.Client(nc, model.OSWindows)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- bus.Listen(ctx, queue, func(ctx context.Context, d mq.Delivery) error {
			if err := store.Insert(ctx, string(d.Body)); err != nil {
				logging.Op().Error("mqproxy: failed to insert into bridge", "error", err)
				return err
			}
			return nil
		})
	}()
	logging.Op().Info("mqproxy: bridging", "netconfig", nc, "queue", queue)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	err = <-listenErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("mqproxy: shutdown complete")
		return nil
	}
	return err
}
