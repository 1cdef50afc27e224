// Package cleaner implements the standalone periodic-sweep daemon of
// §4.14: every tick, it prunes the work root down to the newest Keep
// entries. This is distinct from cmd/srcleaner's per-run pipeline stage
// (which removes one SRID's work/xpcshell-output directories as stage 10);
// this daemon instead runs continuously, independent of any one run.
// Grounded on _examples/original_source/srcleaner.py, using
// internal/retention's pruning algorithm (shared with the cloner, §4.5).
package cleaner

import (
	"context"
	"time"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/retention"
)

// Config configures the periodic sweep.
type Config struct {
	WorkRoot string
	Keep     int
	Interval time.Duration
}

// Cleaner periodically prunes WorkRoot down to the newest Keep entries.
type Cleaner struct {
	cfg Config
}

// New builds a Cleaner, defaulting Interval to 60s if unset.
func New(cfg Config) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &Cleaner{cfg: cfg}
}

// Run ticks every cfg.Interval, pruning cfg.WorkRoot, until ctx is
// cancelled. A sweep error is logged, not fatal — the next tick retries.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cleaner) sweep() {
	logging.Op().Debug("cleaner: sweep running", "work_root", c.cfg.WorkRoot, "keep", c.cfg.Keep)
	err := retention.Prune(c.cfg.WorkRoot, c.cfg.Keep, func(dir string, err error) {
		logging.Op().Warn("cleaner: failed to remove directory", "dir", dir, "error", err)
	})
	if err != nil {
		logging.Op().Warn("cleaner: sweep failed", "error", err)
	}
}
