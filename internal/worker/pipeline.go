// Package worker implements the client-side staged run engine: for every
// (srid, netconfig, os) message it drains from its client queue, it spawns
// the nine stage binaries in order as child processes, each with its own
// numbered log file, applying the two-phase archive-then-clean salvage
// policy on failure. Grounded on srworker.py's StoneRidgeWorker
// (setup/handle/run_process/run_test).
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/runconfig"
	"github.com/oriys/stoneridge/internal/srerrors"
)

// Config holds the worker's static, config-file-sourced settings.
type Config struct {
	// WorkRoot is the root directory runs are scoped under (config
	// "stoneridge"/"work").
	WorkRoot string
	// FirefoxInstallDir is the relative path, under a run's work directory,
	// the unpacked build lives in (config "machine"/"firefox_path").
	FirefoxInstallDir string
	// XPCOutLeaf is the xpcshell test-output subdirectory name passed
	// through to the runner and collator stages.
	XPCOutLeaf string
	// ConfigPath is forwarded to every stage subprocess as --config.
	ConfigPath string
	// StageTimeout bounds every individual stage subprocess. Zero means no
	// timeout beyond ctx's own deadline.
	StageTimeout time.Duration
	// BinaryPrefix names the stage binaries as "<prefix><stage>" (e.g.
	// "sr" + "downloader" = "srdownloader"), resolved through PATH.
	BinaryPrefix string
}

// Pipeline runs the nine-stage sequence for a single client message.
type Pipeline struct {
	cfg Config
	// Tracker, if set, is updated with the current srid/stage as Run
	// progresses, for cmd/srctl's status RPC to read.
	Tracker *Tracker
	// Metrics, if set, records each stage's wall-clock duration.
	Metrics *metrics.Collectors
}

// New builds a Pipeline from cfg, defaulting BinaryPrefix to "sr".
func New(cfg Config) *Pipeline {
	if cfg.BinaryPrefix == "" {
		cfg.BinaryPrefix = "sr"
	}
	return &Pipeline{cfg: cfg}
}

// StageFailure is returned by Run when a stage subprocess exits non-zero.
// LogPath names the stage's own log file, the message an RPC-variant
// caller would surface back (per §4.8's failure policy).
type StageFailure struct {
	Stage   string
	LogPath string
	Err     error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("worker: stage %s failed, see %s: %v", e.Stage, e.LogPath, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// runState carries the per-run bookkeeping run_process mutated in the
// original: which numbered log file comes next.
type runState struct {
	work          workPaths
	runConfigPath string
	procNo        int
}

type workPaths struct {
	root     string
	out      string
	download string
	bin      string
	logs     string
	metadata string
	info     string
}

// Run executes the full nine-stage pipeline for msg. A stage failure aborts
// the remaining stages, runs the two-phase salvage (archive, then clean),
// and returns a *StageFailure wrapping srerrors.ErrStageFailed, naming the
// log file an operator (or an RPC-variant caller) should inspect.
func (p *Pipeline) Run(ctx context.Context, msg model.ClientMessage) (err error) {
	if p.Tracker != nil {
		p.Tracker.startRun(msg.Srid)
		defer p.Tracker.finishRun()
	}

	work, err := p.prepareWorkDir(msg)
	if err != nil {
		return fmt.Errorf("worker: prepare work dir: %w", err)
	}

	rc := runconfig.New().
		Set("netconfig", string(msg.Netconfig)).
		Set("work", work.root).
		Set("download", work.download).
		Set("bin", work.bin).
		Set("out", work.out).
		Set("metadata", work.metadata).
		Set("info", work.info).
		SetInt("tstamp", msg.Tstamp).
		Set("srid", msg.Srid).
		Set("xpcoutleaf", p.cfg.XPCOutLeaf)

	runConfigPath := filepath.Join(work.out, "run.ini")
	if err := rc.WriteFile(runConfigPath); err != nil {
		return fmt.Errorf("worker: write run config: %w", err)
	}

	state := &runState{work: work, runConfigPath: runConfigPath, procNo: 1}

	archiveOnFailure := false
	cleanerCalled := false

	runStage := func(name string, args ...string) error {
		logPath, stageErr := p.runStage(ctx, state, msg, name, args...)
		if stageErr == nil {
			return nil
		}
		if archiveOnFailure {
			archiveOnFailure = false
			_, _ = p.runStage(ctx, state, msg, "archiver")
		}
		if !cleanerCalled {
			cleanerCalled = true
			_, _ = p.runStage(ctx, state, msg, "cleaner")
		}
		return &StageFailure{Stage: name, LogPath: logPath, Err: fmt.Errorf("%w: %w", stageErr, srerrors.ErrStageFailed)}
	}

	if err := runStage("downloader"); err != nil {
		return err
	}
	if err := runStage("unpacker"); err != nil {
		return err
	}
	if err := runStage("infogatherer"); err != nil {
		return err
	}

	archiveOnFailure = true

	if err := runStage("dnsupdater"); err != nil {
		return err
	}
	if err := runStage("runner"); err != nil {
		return err
	}
	if err := runStage("dnsupdater", "--restore"); err != nil {
		return err
	}
	if err := runStage("collator"); err != nil {
		return err
	}
	if err := runStage("uploader"); err != nil {
		return err
	}

	archiveOnFailure = false
	if err := runStage("archiver"); err != nil {
		return err
	}

	cleanerCalled = true
	return runStage("cleaner")
}

func (p *Pipeline) prepareWorkDir(msg model.ClientMessage) (workPaths, error) {
	root := filepath.Join(p.cfg.WorkRoot, msg.Srid, string(msg.Netconfig))
	if _, err := os.Stat(root); err == nil {
		root = fmt.Sprintf("%s_%d", root, msg.Tstamp)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return workPaths{}, err
	}

	out := filepath.Join(root, "out")
	logs := filepath.Join(out, "logs")
	download := filepath.Join(root, "download")
	bin := filepath.Join(root, p.cfg.FirefoxInstallDir)

	for _, dir := range []string{out, logs, download} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return workPaths{}, err
		}
	}

	return workPaths{
		root:     root,
		out:      out,
		download: download,
		bin:      bin,
		logs:     logs,
		metadata: filepath.Join(out, "metadata.zip"),
		info:     filepath.Join(out, "info.json"),
	}, nil
}

func (p *Pipeline) runStage(ctx context.Context, state *runState, msg model.ClientMessage, name string, extraArgs ...string) (logPath string, err error) {
	if p.Tracker != nil {
		p.Tracker.setStage(name)
	}

	stageLogger, err := logging.NewStageLogger(state.work.logs, state.procNo, name, string(msg.Netconfig))
	if err != nil {
		return "", fmt.Errorf("open stage log: %w", err)
	}
	defer stageLogger.Close()
	state.procNo++
	logPath = stageLogger.Path()

	runCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.StageTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}

	args := append([]string{
		"--config", p.cfg.ConfigPath,
		"--runconfig", state.runConfigPath,
		"--log", logPath,
	}, extraArgs...)

	binary := p.cfg.BinaryPrefix + name
	cmd := exec.CommandContext(runCtx, binary, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	started := time.Now()
	stageLogger.Logger().Info("stage starting", "binary", binary, "args", extraArgs)
	runErr := cmd.Run()
	if p.Metrics != nil {
		p.Metrics.ObserveStageDuration(name, time.Since(started).Seconds())
	}
	if runErr != nil {
		stageLogger.Logger().Error("stage failed", "error", runErr, "output", combined.String())
		return logPath, fmt.Errorf("%s: %w", binary, runErr)
	}
	stageLogger.Logger().Info("stage complete")
	return logPath, nil
}
