package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/model"
)

// fakeStageDir builds a directory of tiny shell scripts named
// "sr<stage>" so Pipeline.Run can exec real (fast, deterministic)
// subprocesses without needing the actual stage binaries. failAt names the
// stage (if any) that should exit non-zero.
func fakeStageDir(t *testing.T, failAt string) string {
	t.Helper()
	dir := t.TempDir()
	stages := []string{"downloader", "unpacker", "infogatherer", "dnsupdater", "runner", "collator", "uploader", "archiver", "cleaner"}
	for _, s := range stages {
		body := "#!/bin/sh\nexit 0\n"
		if s == failAt {
			body = "#!/bin/sh\nexit 1\n"
		}
		path := filepath.Join(dir, "sr"+s)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	}
	return dir
}

func newTestPipeline(t *testing.T, failAt string) *Pipeline {
	dir := fakeStageDir(t, failAt)
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return New(Config{
		WorkRoot:          t.TempDir(),
		FirefoxInstallDir: "firefox",
		XPCOutLeaf:        "leaf",
		ConfigPath:        "/etc/stoneridge.yaml",
	})
}

func testMessage() model.ClientMessage {
	return model.ClientMessage{Srid: "alice-deadbeef1234", Netconfig: model.NetconfigBroadband, Tstamp: 1700000000, Ldap: "alice"}
}

func TestRunAllStagesSucceed(t *testing.T) {
	p := newTestPipeline(t, "")
	require.NoError(t, p.Run(context.Background(), testMessage()))
}

func TestRunAbortsAndSalvagesOnStageFailure(t *testing.T) {
	p := newTestPipeline(t, "runner")
	err := p.Run(context.Background(), testMessage())
	require.Error(t, err)

	var stageErr *StageFailure
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, "runner", stageErr.Stage)
	require.FileExists(t, stageErr.LogPath)

	// archive_on_failure was set before the runner stage, so the salvage
	// archiver log should exist alongside it.
	logs, err2 := os.ReadDir(filepath.Dir(stageErr.LogPath))
	require.NoError(t, err2)
	var sawArchiver, sawCleaner bool
	for _, entry := range logs {
		if filepathContains(entry.Name(), "archiver") {
			sawArchiver = true
		}
		if filepathContains(entry.Name(), "cleaner") {
			sawCleaner = true
		}
	}
	require.True(t, sawArchiver, "expected a salvage archiver log")
	require.True(t, sawCleaner, "expected a salvage cleaner log")
}

func TestRunEarlyStageFailureSkipsArchive(t *testing.T) {
	p := newTestPipeline(t, "downloader")
	err := p.Run(context.Background(), testMessage())
	require.Error(t, err)

	var stageErr *StageFailure
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, "downloader", stageErr.Stage)

	logs, err2 := os.ReadDir(filepath.Dir(stageErr.LogPath))
	require.NoError(t, err2)
	var sawArchiver bool
	for _, entry := range logs {
		if filepathContains(entry.Name(), "archiver") {
			sawArchiver = true
		}
	}
	require.False(t, sawArchiver, "archive_on_failure is not yet set before the downloader stage")
}

func filepathContains(name, substr string) bool {
	for i := 0; i+len(substr) <= len(name); i++ {
		if name[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
