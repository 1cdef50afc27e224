// Command srcloner fetches one SRID's build artifacts from upstream. It is
// invoked by srmaster as a bounded subprocess (context.WithTimeout +
// exec.CommandContext), not run as a long-lived daemon: it reads a single
// JSON-encoded RunRequest from stdin, performs one clone, and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/cloner"
	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/observability"
	"github.com/oriys/stoneridge/internal/srerrors"
)

func main() {
	var configPath, logPath string

	cmd := &cobra.Command{
		Use:   "srcloner",
		Short: "Stone Ridge build cloner (one-shot, reads a RunRequest on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to stoneridge config file")
	cmd.Flags().StringVar(&logPath, "log", "", "path to log file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func run(configPath, logPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.RedirectOpLog(logPath); err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	initCtx := context.Background()
	if err := observability.Init(initCtx, observability.Config{
		Enabled:     cfg.GetBool("observability", "enabled", false),
		Exporter:    cfg.GetString("observability", "exporter", "otlp-http"),
		Endpoint:    cfg.GetString("observability", "endpoint", "localhost:4318"),
		ServiceName: "stoneridge-cloner",
		SampleRate:  1.0,
	}); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer observability.Shutdown(initCtx)

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	var req model.RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %w", err, srerrors.ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	c := cloner.New(cloner.Config{
		Host:        cfg.GetString("cloner", "host", ""),
		Root:        cfg.GetString("cloner", "root", "/pub/mozilla.org/firefox"),
		OutputRoot:  cfg.GetString("cloner", "output_root", "/var/lib/stoneridge/downloads"),
		Keep:        cfg.GetInt("cloner", "keep", 50),
		MaxAttempts: cfg.GetInt("cloner", "max_attempts", 20),
	}, subprocessDeferrer{
		binary:     cfg.GetString("deferrer", "binary", "srdeferrer"),
		configPath: configPath,
		interval:   cfg.GetInt("deferrer", "interval_seconds", 600),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cloneTimeout(cfg))
	defer cancel()

	if err := c.Run(ctx, req); err != nil {
		logging.Op().Error("cloner: run failed", "srid", req.Srid, "error", err)
		return err
	}
	logging.Op().Info("cloner: run complete", "srid", req.Srid)
	return nil
}

func cloneTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.GetInt("cloner", "timeout_seconds", 900)) * time.Second
}

// subprocessDeferrer spawns srdeferrer fire-and-forget, per §4.6: the
// cloner never waits on it, it only ensures the deferral process has been
// started before returning control (and an eventual non-zero exit) to the
// master.
type subprocessDeferrer struct {
	binary     string
	configPath string
	interval   int
}

func (d subprocessDeferrer) Defer(ctx context.Context, req model.RunRequest) error {
	args := []string{
		"--interval", itoa(d.interval),
		"--attempt", itoa(req.Attempt),
		"--ldap", req.Ldap,
		"--sha", req.Sha,
	}
	if req.Nightly {
		args = append(args, "--nightly")
	}
	if d.configPath != "" {
		args = append(args, "--config", d.configPath)
	}
	for _, osName := range req.OperatingSystems {
		args = append(args, "--"+string(osName))
	}
	for _, nc := range req.Netconfigs {
		args = append(args, "--"+string(nc))
	}

	cmd := exec.Command(d.binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start deferrer: %w", err)
	}
	// Deliberately not Wait()'d: the deferrer outlives this process.
	return nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

func exitCode(err error) int {
	if errors.Is(err, srerrors.ErrInvalidRequest) {
		return 2
	}
	return 1
}
