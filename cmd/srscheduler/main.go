// Command srscheduler runs one per-netconfig scheduler instance: it drains
// its netconfig's queue and fans each message out onto one per-OS client
// queue. §4.7 — one process per netconfig, no state beyond that binding.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/netscheduler"
)

func main() {
	flags := daemonutil.Flags{}
	var netconfig string

	cmd := &cobra.Command{
		Use:   "srscheduler",
		Short: "Stone Ridge per-netconfig scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(daemonutil.ExitArgumentError)
			}
			nc := model.Netconfig(netconfig)
			if !isKnownNetconfig(nc) {
				fmt.Fprintf(os.Stderr, "unknown netconfig %q\n", netconfig)
				os.Exit(daemonutil.ExitArgumentError)
			}
			return run(flags, nc)
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to stoneridge config file")
	cmd.Flags().StringVar(&flags.LogPath, "log", "", "path to log file")
	cmd.Flags().BoolVar(&flags.NoDaemon, "nodaemon", false, "run in the foreground")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "pidfile path (mutually exclusive with --nodaemon)")
	cmd.Flags().StringVar(&netconfig, "netconfig", "", "netconfig this instance schedules for (broadband, umts, gsm)")
	cmd.MarkFlagRequired("netconfig")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(daemonutil.ExitStartupFailure)
	}
}

func isKnownNetconfig(nc model.Netconfig) bool {
	for _, n := range model.AllNetconfigs {
		if n == nc {
			return true
		}
	}
	return false
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

	bus := mq.NewRedisBus(redis.NewClient(&redis.Options{
		Addr: cfg.GetString("broker", "addr", "localhost:6379"),
	}))
	defer bus.Close()

	scheduler := netscheduler.New(bus, nc)

	if addr := cfg.GetString("metrics", "addr", ""); addr != "" {
		scheduler.Metrics = metrics.New("stoneridge")
		mux := http.NewServeMux()
		mux.Handle("/metrics", scheduler.Metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Warn("scheduler: metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
		logging.Op().Info("scheduler: metrics listening", "addr", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenErr := make(chan error, 1)
	go func() { listenErr <- scheduler.Listen(ctx) }()
	logging.Op().Info("scheduler: listening", "netconfig", nc)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	err = <-listenErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("scheduler: shutdown complete", "netconfig", nc)
		return nil
	}
	return err
}
