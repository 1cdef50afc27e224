// Package runner implements the runner stage's test-list construction and
// per-test xpcshell/.page invocation contract. Grounded on
// srrunner.py's StoneRidgeRunner (_build_testlist, _build_preargs, run).
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oriys/stoneridge/internal/logging"
)

// sentinelTest is excluded from an auto-discovered test list: it exists in
// the test root purely as a placeholder/fixture, never as a real test.
const sentinelTest = "fake.js"

// Config holds the static settings the runner needs beyond the per-test
// arguments: where the tests live, where head.js lives, how long a single
// test may run before being killed.
type Config struct {
	TestRoot      string
	InstallRoot   string // holds head.js
	XPCShellPath  string
	OutDir        string
	XPCOutLeaf    string
	PerTestTimeout time.Duration
	TCPDumpExe    string
	TCPDumpIface  string
	Heads         []string // extra head.js-style files, appended after the default
}

// Result records one test's outcome.
type Result struct {
	Test    string
	Passed  bool
	TimedOut bool
	Output  string
}

// Runner executes a list of xpcshell ".js" tests (and, when named
// explicitly, ".page" tests) against a single unpacked build.
type Runner struct {
	cfg Config
}

// New builds a Runner from cfg, defaulting PerTestTimeout to 180s (matching
// the original's fixed "-v 180" xpcshell verbosity/timeout argument).
func New(cfg Config) *Runner {
	if cfg.PerTestTimeout <= 0 {
		cfg.PerTestTimeout = 180 * time.Second
	}
	return &Runner{cfg: cfg}
}

// BuildTestList returns the tests to run. If requested is empty, every
// ".js"/".page" file in the test root is used, minus the sentinel. If
// requested is non-empty, each candidate is validated (must end in ".js" or
// ".page", must exist under the test root); invalid candidates are dropped
// and logged, never causing the whole run to fail.
func (r *Runner) BuildTestList(requested []string) ([]string, error) {
	if len(requested) == 0 {
		entries, err := os.ReadDir(r.cfg.TestRoot)
		if err != nil {
			return nil, fmt.Errorf("runner: read test root: %w", err)
		}
		var tests []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if !strings.HasSuffix(name, ".js") && !strings.HasSuffix(name, ".page") {
				continue
			}
			if name == sentinelTest {
				continue
			}
			tests = append(tests, name)
		}
		sort.Strings(tests)
		return tests, nil
	}

	var tests []string
	for _, candidate := range requested {
		if !strings.HasSuffix(candidate, ".js") && !strings.HasSuffix(candidate, ".page") {
			logging.Op().Error("runner: invalid test filename", "test", candidate)
			continue
		}
		if _, err := os.Stat(filepath.Join(r.cfg.TestRoot, candidate)); err != nil {
			logging.Op().Error("runner: missing test", "test", candidate)
			continue
		}
		tests = append(tests, candidate)
	}
	return tests, nil
}

// Run executes every test in list in order, returning one Result per test.
// A single test's failure or timeout never aborts the remaining tests — only
// a failure to start the tcpdump child is surfaced as an error; a test
// child that cannot be started is recorded as a failed Result.
func (r *Runner) Run(ctx context.Context, list []string) ([]Result, error) {
	xpcoutdir := filepath.Join(r.cfg.OutDir, r.cfg.XPCOutLeaf)
	if err := os.MkdirAll(xpcoutdir, 0o755); err != nil {
		return nil, fmt.Errorf("runner: create xpcshell out dir: %w", err)
	}

	results := make([]Result, 0, len(list))
	for _, test := range list {
		var res Result
		var err error
		if strings.HasSuffix(test, ".page") {
			res, err = r.runPageTest(ctx, test)
		} else {
			res, err = r.runXPCShellTest(ctx, test)
		}
		if err != nil {
			return results, fmt.Errorf("runner: run %s: %w", test, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) preargs() []string {
	args := []string{"-v", "180"}
	for _, head := range r.cfg.Heads {
		abs, err := filepath.Abs(head)
		if err != nil {
			abs = head
		}
		args = append(args, "-f", abs)
	}
	return args
}

func (r *Runner) runXPCShellTest(ctx context.Context, test string) (Result, error) {
	outfile := test + ".out"
	args := r.preargs()
	args = append(args,
		"-e", fmt.Sprintf("const _SR_OUT_SUBDIR = %q;", r.cfg.XPCOutLeaf),
		"-e", fmt.Sprintf("const _SR_OUT_FILE = %q;", outfile),
		"-f", filepath.Join(r.cfg.InstallRoot, "head.js"),
		"-f", filepath.Join(r.cfg.TestRoot, test),
		"-e", "do_stoneridge(); quit(0);",
	)

	return r.runChild(ctx, test, r.cfg.XPCShellPath, args)
}

// runPageTest invokes the configured XPCShellPath binary against a harness
// ".page" fixture. The page-test argument surface is narrower: no -v, no
// head.js injection, just the page file and the output location.
func (r *Runner) runPageTest(ctx context.Context, test string) (Result, error) {
	outfile := test + ".out"
	args := []string{
		"-e", fmt.Sprintf("const _SR_OUT_SUBDIR = %q;", r.cfg.XPCOutLeaf),
		"-e", fmt.Sprintf("const _SR_OUT_FILE = %q;", outfile),
		filepath.Join(r.cfg.TestRoot, test),
	}
	return r.runChild(ctx, test, r.cfg.XPCShellPath, args)
}

func (r *Runner) runChild(ctx context.Context, test, binary string, args []string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.PerTestTimeout)
	defer cancel()

	var tcpdump *exec.Cmd
	var tcpdumpOut bytes.Buffer
	if r.cfg.TCPDumpExe != "" && r.cfg.TCPDumpIface != "" {
		pcapPath := filepath.Join(r.cfg.OutDir, "traffic.pcap")
		tcpdump = exec.CommandContext(ctx, r.cfg.TCPDumpExe,
			"-s", "2000", "-U", "-p", "-w", pcapPath, "-i", r.cfg.TCPDumpIface)
		tcpdump.Stdout = &tcpdumpOut
		tcpdump.Stderr = &tcpdumpOut
		if err := tcpdump.Start(); err != nil {
			return Result{}, fmt.Errorf("start tcpdump: %w", err)
		}
	}

	cmd := exec.CommandContext(runCtx, binary, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()

	if tcpdump != nil {
		_ = tcpdump.Process.Kill()
		_ = tcpdump.Wait()
	}

	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		logging.Op().Error("runner: test timed out, killed", "test", test)
		return Result{Test: test, Passed: false, TimedOut: true, Output: combined.String()}, nil
	}
	if runErr != nil {
		logging.Op().Error("runner: test failed", "test", test, "error", runErr)
		return Result{Test: test, Passed: false, Output: combined.String()}, nil
	}
	return Result{Test: test, Passed: true, Output: combined.String()}, nil
}
