// Command srrunner drives internal/worker/runner against the unpacked
// build: builds the test list, then invokes xpcshell (or the browser
// directly for .page fixtures) once per test. Grounded on srrunner.py.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/srerrors"
	"github.com/oriys/stoneridge/internal/worker/runner"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	var heads []string
	cmd := &cobra.Command{
		Use: "srrunner [tests...]",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags, heads, args)
		},
	}
	flags.Bind(cmd)
	cmd.Flags().StringArrayVar(&heads, "head", nil, "extra head.js-style file (repeatable)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags stagecli.Flags, heads []string, tests []string) error {
	cfg, rc, err := stagecli.Load(flags)
	if err != nil {
		return err
	}

	bindir := rc.Get("bin", "")
	outdir := rc.Get("out", "")
	xpcoutleaf := rc.Get("xpcoutleaf", "")
	testroot := filepath.Join(rc.Get("work", ""), "tests", "bin", "stoneridge")
	xpcshellBin := cfg.GetString("machine", "xpcshell", "xpcshell")

	r := runner.New(runner.Config{
		TestRoot:       testroot,
		InstallRoot:    bindir,
		XPCShellPath:   filepath.Join(bindir, xpcshellBin),
		OutDir:         outdir,
		XPCOutLeaf:     xpcoutleaf,
		PerTestTimeout: time.Duration(cfg.GetInt("runner", "timeout_seconds", 300)) * time.Second,
		TCPDumpExe:     cfg.GetString("tcpdump", "exe", ""),
		TCPDumpIface:   cfg.GetString("tcpdump", "interface", ""),
		Heads:          heads,
	})

	list, err := r.BuildTestList(tests)
	if err != nil {
		return fmt.Errorf("runner: %w: %w", err, srerrors.ErrStageFailed)
	}

	results, err := r.Run(context.Background(), list)
	if err != nil {
		return fmt.Errorf("runner: %w: %w", err, srerrors.ErrStageFailed)
	}

	failed := 0
	for _, res := range results {
		if !res.Passed {
			failed++
			logging.Op().Error("runner: test failed", "test", res.Test, "timed_out", res.TimedOut)
		}
	}
	logging.Op().Info("runner: complete", "total", len(results), "failed", failed)
	return nil
}
