package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stoneridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestGetStringDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "fallback", cfg.GetString("master", "missing", "fallback"))
}

func TestGetBoolTruthySet(t *testing.T) {
	path := writeTempConfig(t, "cloner:\n  nightly: \"Y\"\n  strict: \"0\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.GetBool("cloner", "nightly", false))
	require.False(t, cfg.GetBool("cloner", "strict", true))
	require.False(t, cfg.GetBool("cloner", "absent", false))
}

func TestOverlayShadowsBase(t *testing.T) {
	base := writeTempConfig(t, "master:\n  max_attempts: \"3\"\n  interval: \"600\"\n")
	run := writeTempConfig(t, "master:\n  max_attempts: \"5\"\n")

	cfg, err := Load(base)
	require.NoError(t, err)
	overlaid, err := cfg.Overlay(run)
	require.NoError(t, err)

	require.Equal(t, 5, overlaid.GetInt("master", "max_attempts", 0))
	require.Equal(t, 600, overlaid.GetInt("master", "interval", 0))
	require.Equal(t, 3, cfg.GetInt("master", "max_attempts", 0), "base config must stay untouched")
}

func TestApplyEnvWinsOverFiles(t *testing.T) {
	base := writeTempConfig(t, "reporter:\n  project: \"stoneridge\"\n")
	cfg, err := Load(base)
	require.NoError(t, err)

	t.Setenv("STONERIDGE_REPORTER_PROJECT", "from-env")
	withEnv := cfg.ApplyEnv("STONERIDGE_", [][2]string{{"reporter", "project"}})
	require.Equal(t, "from-env", withEnv.GetString("reporter", "project", ""))
	require.Equal(t, "stoneridge", cfg.GetString("reporter", "project", ""), "original config must stay untouched")
}

func TestSectionMergesOverlayOverBase(t *testing.T) {
	base := writeTempConfig(t, "auth:\n  alice: \"tok-a\"\n  bob: \"tok-b\"\n")
	run := writeTempConfig(t, "auth:\n  bob: \"tok-b2\"\n  carol: \"tok-c\"\n")

	cfg, err := Load(base)
	require.NoError(t, err)
	overlaid, err := cfg.Overlay(run)
	require.NoError(t, err)

	section := overlaid.Section("auth")
	require.Equal(t, map[string]string{"alice": "tok-a", "bob": "tok-b2", "carol": "tok-c"}, section)
	require.Equal(t, map[string]string{"alice": "tok-a", "bob": "tok-b"}, cfg.Section("auth"))
}
