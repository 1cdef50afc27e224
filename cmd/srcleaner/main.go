// Command srcleaner removes a single run's work directory and xpcshell
// output directory. Grounded on stoneridge_cleaner.py.
//
// This is the per-run pipeline stage invoked as the ninth stage by
// internal/worker.Pipeline; the periodic retention sweep over the whole
// work root lives in internal/cleaner's standalone daemon (§4.14).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/worker/stagecli"
)

func main() {
	flags := stagecli.Flags{}
	cmd := &cobra.Command{
		Use: "srcleaner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	flags.Bind(cmd)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags stagecli.Flags) error {
	_, rc, err := stagecli.Load(flags)
	if err != nil {
		return err
	}

	workdir := rc.Get("work", "")
	outdir := rc.Get("out", "")
	xpcoutdir := ""
	if leaf := rc.Get("xpcoutleaf", ""); leaf != "" && outdir != "" {
		xpcoutdir = outdir + string(os.PathSeparator) + leaf
	}

	if workdir != "" {
		if _, err := os.Stat(workdir); err == nil {
			logging.Op().Info("cleaner: removing workdir", "workdir", workdir)
			if err := os.RemoveAll(workdir); err != nil {
				return fmt.Errorf("cleaner: remove workdir: %w", err)
			}
		}
	}
	if xpcoutdir != "" {
		if _, err := os.Stat(xpcoutdir); err == nil {
			logging.Op().Info("cleaner: removing xpcshell out dir", "dir", xpcoutdir)
			if err := os.RemoveAll(xpcoutdir); err != nil {
				return fmt.Errorf("cleaner: remove xpcshell out dir: %w", err)
			}
		}
	}

	return nil
}
