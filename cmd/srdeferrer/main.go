// Command srdeferrer waits out a fixed interval, then republishes a run
// request onto intake carrying the --attempt number it was given (srcloner
// passes the already-incremented attempt). It is spawned
// fire-and-forget by srcloner when an upstream build isn't published yet
// (§4.6) and exits as soon as the republish completes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/deferrer"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/runid"
)

func main() {
	var (
		configPath string
		interval   int
		attempt    int
		nightly    bool
		ldap       string
		sha        string
		linux      bool
		mac        bool
		windows    bool
		broadband  bool
		umts       bool
		gsm        bool
	)

	cmd := &cobra.Command{
		Use:   "srdeferrer",
		Short: "Stone Ridge deferred-requeue agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.RunRequest{
				Nightly: nightly,
				Ldap:    ldap,
				Sha:     sha,
				Attempt: attempt,
			}
			if linux {
				req.OperatingSystems = append(req.OperatingSystems, model.OSLinux)
			}
			if mac {
				req.OperatingSystems = append(req.OperatingSystems, model.OSMac)
			}
			if windows {
				req.OperatingSystems = append(req.OperatingSystems, model.OSWindows)
			}
			if broadband {
				req.Netconfigs = append(req.Netconfigs, model.NetconfigBroadband)
			}
			if umts {
				req.Netconfigs = append(req.Netconfigs, model.NetconfigUMTS)
			}
			if gsm {
				req.Netconfigs = append(req.Netconfigs, model.NetconfigGSM)
			}
			if req.Nightly {
				req.Srid = runid.NewNightlySRID()
			} else {
				req.Srid = runid.NewSRID(req.Ldap, req.Sha)
			}
			return run(configPath, time.Duration(interval)*time.Second, req)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to stoneridge config file")
	cmd.Flags().IntVar(&interval, "interval", 600, "seconds to wait before republishing")
	cmd.Flags().IntVar(&attempt, "attempt", 0, "attempt number to carry on the republished request")
	cmd.Flags().BoolVar(&nightly, "nightly", false, "request is a nightly run")
	cmd.Flags().StringVar(&ldap, "ldap", "", "submitter ldap (try runs only)")
	cmd.Flags().StringVar(&sha, "sha", "", "revision sha (try runs only)")
	cmd.Flags().BoolVar(&linux, "linux", false, "include linux")
	cmd.Flags().BoolVar(&mac, "mac", false, "include mac")
	cmd.Flags().BoolVar(&windows, "windows", false, "include windows")
	cmd.Flags().BoolVar(&broadband, "broadband", false, "include broadband")
	cmd.Flags().BoolVar(&umts, "umts", false, "include umts")
	cmd.Flags().BoolVar(&gsm, "gsm", false, "include gsm")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, interval time.Duration, req model.RunRequest) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.GetString("broker", "addr", "localhost:6379")})
	bus := mq.NewRedisBus(client)
	defer bus.Close()

	logging.Op().Info("deferrer: waiting before republish", "srid", req.Srid, "interval", interval)
	d := deferrer.New(bus, interval)
	return d.Run(context.Background(), req)
}
