// Command srworker is the per-(netconfig, os) client daemon: it drains its
// client queue and runs the nine-stage pipeline for each message it
// receives, one at a time (prefetch=1 on the bus enforces this). Grounded
// on srworker.py's StoneRidgeWorker daemon loop.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/grpcstatus"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
	"github.com/oriys/stoneridge/internal/worker"
)

func main() {
	flags := daemonutil.Flags{}
	var netconfig, osName string

	cmd := &cobra.Command{
		Use:   "srworker",
		Short: "Stone Ridge client worker (runs the nine-stage pipeline per message)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(daemonutil.ExitArgumentError)
			}
			if !isKnownNetconfig(model.Netconfig(netconfig)) {
				fmt.Fprintf(os.Stderr, "unknown netconfig %q\n", netconfig)
				os.Exit(daemonutil.ExitArgumentError)
			}
			if !isKnownOS(model.OperatingSystem(osName)) {
				fmt.Fprintf(os.Stderr, "unknown os %q\n", osName)
				os.Exit(daemonutil.ExitArgumentError)
			}
			return run(flags, model.Netconfig(netconfig), model.OperatingSystem(osName))
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to stoneridge config file")
	cmd.Flags().StringVar(&flags.LogPath, "log", "", "path to log file")
	cmd.Flags().BoolVar(&flags.NoDaemon, "nodaemon", false, "run in the foreground")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "pidfile path (mutually exclusive with --nodaemon)")
	cmd.Flags().StringVar(&netconfig, "netconfig", "", "netconfig this worker serves")
	cmd.Flags().StringVar(&osName, "os", "", "operating system this worker serves")
	cmd.MarkFlagRequired("netconfig")
	cmd.MarkFlagRequired("os")

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

func isKnownOS(o model.OperatingSystem) bool {
	for _, os := range model.AllOperatingSystems {
		if os == o {
			return true
		}
	}
	return false
}

func run(flags daemonutil.Flags, nc model.Netconfig, osName model.OperatingSystem) error {
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

	pipeline := worker.New(worker.Config{
		WorkRoot:          cfg.GetString("stoneridge", "work", "/var/lib/stoneridge/work"),
		FirefoxInstallDir: cfg.GetString("machine", "firefox_path", "firefox"),
		XPCOutLeaf:        cfg.GetString("stoneridge", "xpcoutleaf", "stoneridge"),
		ConfigPath:        flags.ConfigPath,
		StageTimeout:      time.Duration(cfg.GetInt("worker", "stage_timeout_seconds", 0)) * time.Second,
		BinaryPrefix:      cfg.GetString("worker", "binary_prefix", "sr"),
	})

	queue := mqtopics.Client(nc, osName)

	pipeline.Tracker = worker.NewTracker(string(nc), string(osName), func() int {
		n, err := bus.QueueLen(context.Background(), queue)
		if err != nil {
			return 0
		}
		return int(n)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := cfg.GetString("metrics", "addr", ""); addr != "" {
		pipeline.Metrics = metrics.New("stoneridge")
		mux := http.NewServeMux()
		mux.Handle("/metrics", pipeline.Metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Warn("worker: metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		logging.Op().Info("worker: metrics listening", "addr", addr)
	}

	if statusAddr := cfg.GetString("worker", "status_addr", ""); statusAddr != "" {
		lis, err := net.Listen("tcp", statusAddr)
		if err != nil {
			return fmt.Errorf("worker: listen on status addr %s: %w", statusAddr, err)
		}
		gs := grpc.NewServer()
		grpcstatus.Register(gs, pipeline.Tracker)
		go func() {
			if err := gs.Serve(lis); err != nil {
				logging.Op().Warn("worker: status server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			gs.GracefulStop()
		}()
		logging.Op().Info("worker: status service listening", "addr", statusAddr)
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- bus.Listen(ctx, queue, func(ctx context.Context, d mq.Delivery) error {
			var msg model.ClientMessage
			if err := d.Decode(&msg); err != nil {
				logging.Op().Error("worker: malformed client message, dropping", "error", err)
				return nil
			}
			if err := pipeline.Run(ctx, msg); err != nil {
				logging.Op().Error("worker: run failed", "srid", msg.Srid, "error", err)
				return err
			}
			logging.Op().Info("worker: run complete", "srid", msg.Srid)
			return nil
		})
	}()
	logging.Op().Info("worker: listening", "netconfig", nc, "os", osName, "queue", queue)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	err = <-listenErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("worker: shutdown complete")
		return nil
	}
	return err
}
