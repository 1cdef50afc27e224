package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestRoot(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("// test\n"), 0o644))
	}
	return dir
}

func TestBuildTestListDiscoversAllMinusSentinel(t *testing.T) {
	root := writeTestRoot(t, "fake.js", "one.js", "two.js", "notes.txt")
	r := New(Config{TestRoot: root})

	list, err := r.BuildTestList(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"one.js", "two.js"}, list)
}

func TestBuildTestListValidatesRequestedSubset(t *testing.T) {
	root := writeTestRoot(t, "one.js", "two.js")
	r := New(Config{TestRoot: root})

	list, err := r.BuildTestList([]string{"one.js", "missing.js", "bad.txt"})
	require.NoError(t, err)
	require.Equal(t, []string{"one.js"}, list)
}

func TestRunExecutesEachTestWithXPCShellArgs(t *testing.T) {
	root := writeTestRoot(t, "one.js")
	installRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(installRoot, "head.js"), []byte("// head\n"), 0o644))

	fakeShell := filepath.Join(t.TempDir(), "xpcshell")
	require.NoError(t, os.WriteFile(fakeShell, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	outDir := t.TempDir()
	r := New(Config{
		TestRoot:     root,
		InstallRoot:  installRoot,
		XPCShellPath: fakeShell,
		OutDir:       outDir,
		XPCOutLeaf:   "xpcout",
	})

	results, err := r.Run(context.Background(), []string{"one.js"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Passed)
	require.DirExists(t, filepath.Join(outDir, "xpcout"))
}

func TestRunMarksTimedOutTestAsFailedWithoutAbortingRemaining(t *testing.T) {
	root := writeTestRoot(t, "slow.js", "fast.js")
	installRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(installRoot, "head.js"), []byte("// head\n"), 0o644))

	fakeShell := filepath.Join(t.TempDir(), "xpcshell")
	require.NoError(t, os.WriteFile(fakeShell, []byte("#!/bin/sh\nsleep 5\n"), 0o755))

	r := New(Config{
		TestRoot:       root,
		InstallRoot:    installRoot,
		XPCShellPath:   fakeShell,
		OutDir:         t.TempDir(),
		XPCOutLeaf:     "xpcout",
		PerTestTimeout: 20 * time.Millisecond,
	})

	results, err := r.Run(context.Background(), []string{"slow.js", "fast.js"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].TimedOut)
	require.False(t, results[0].Passed)
	require.True(t, results[1].TimedOut)
}

func TestRunPageTestUsesBrowserDirectly(t *testing.T) {
	root := writeTestRoot(t, "fixture.page")
	fakeBrowser := filepath.Join(t.TempDir(), "browser")
	require.NoError(t, os.WriteFile(fakeBrowser, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	r := New(Config{
		TestRoot:     root,
		XPCShellPath: fakeBrowser,
		OutDir:       t.TempDir(),
		XPCOutLeaf:   "xpcout",
	})

	results, err := r.Run(context.Background(), []string{"fixture.page"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Passed)
}
