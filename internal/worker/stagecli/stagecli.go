// Package stagecli is the common flag surface shared by the nine stage
// binaries the worker pipeline spawns: --config, --runconfig, --log. Each
// stage's main.go adds whatever stage-specific flags it needs on top.
package stagecli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/runconfig"
)

// Flags holds the three arguments every stage binary accepts.
type Flags struct {
	ConfigPath    string
	RunConfigPath string
	LogPath       string
}

// Bind registers the three common flags on cmd.
func (f *Flags) Bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to stoneridge config file")
	cmd.Flags().StringVar(&f.RunConfigPath, "runconfig", "", "path to this run's run.ini")
	cmd.Flags().StringVar(&f.LogPath, "log", "", "path to log file")
}

// Load reads the static config and the per-run config, and redirects the
// stage's log output, returning both so the caller's run() can read from
// them.
func Load(f Flags) (*config.Config, *runconfig.RunConfig, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.RedirectOpLog(f.LogPath); err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	rc, err := runconfig.Load(f.RunConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load run config: %w", err)
	}
	return cfg, rc, nil
}
