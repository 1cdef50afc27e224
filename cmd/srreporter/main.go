// Command srreporter drains the "outgoing" queue, uploads each run's
// datasets to the graph server, and archives the raw payload, per §4.13.
// Grounded on cmd/srworker's listen-loop shape, scaled to a single named
// queue instead of a per-(netconfig, os) one.
package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/archive"
	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/daemonutil"
	"github.com/oriys/stoneridge/internal/graphclient"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
	"github.com/oriys/stoneridge/internal/observability"
	"github.com/oriys/stoneridge/internal/reporter"
)

func main() {
	flags := daemonutil.Flags{}

	cmd := &cobra.Command{
		Use:   "srreporter",
		Short: "Stone Ridge graph-server reporter",
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.GetBool("observability", "enabled", false),
		Exporter:    cfg.GetString("observability", "exporter", "otlp-http"),
		Endpoint:    cfg.GetString("observability", "endpoint", "localhost:4318"),
		ServiceName: "stoneridge-reporter",
		SampleRate:  1.0,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(context.Background())

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build archive store: %w", err)
	}

	graph := graphclient.New(
		cfg.GetString("graphserver", "host", ""),
		cfg.GetString("graphserver", "project", "stoneridge"),
		graphclient.Credentials{
			Key:    cfg.GetString("graphserver", "key", ""),
			Secret: cfg.GetString("graphserver", "secret", ""),
		},
	)

	rep := reporter.New(reporter.Config{
		Uploader: graph,
		Store:    store,
		UnitTest: cfg.GetBool("stoneridge", "unittest", false),
	})

	bus := mq.NewRedisBus(redis.NewClient(&redis.Options{
		Addr: cfg.GetString("broker", "addr", "localhost:6379"),
	}))
	defer bus.Close()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- rep.ListenAndReport(ctx, bus, mqtopics.Outgoing)
	}()
	logging.Op().Info("reporter: listening", "queue", mqtopics.Outgoing)

	go func() {
		daemonutil.WaitForShutdown(ctx)
		cancel()
	}()

	err = <-listenErr
	if err != nil && ctx.Err() != nil {
		logging.Op().Info("reporter: shutdown complete")
		return nil
	}
	return err
}

// buildStore selects between a local-disk archive (the default, matching
// srreporter.py's out-of-the-box behaviour) and S3 when a bucket is
// configured.
func buildStore(ctx context.Context, cfg *config.Config) (archive.Store, error) {
	bucket := cfg.GetString("archive", "s3_bucket", "")
	if bucket == "" {
		root := cfg.GetString("archive", "root", "/var/lib/stoneridge/archive")
		return archive.NewLocalStore(root), nil
	}

	region := cfg.GetString("archive", "s3_region", "us-west-2")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return archive.NewS3Store(client, bucket, cfg.GetString("archive", "s3_prefix", "")), nil
}
