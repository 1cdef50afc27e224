package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mkdirAt(t *testing.T, root, name string, mtime time.Time) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.Chtimes(dir, mtime, mtime))
}

func TestPruneKeepsNewestN(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	mkdirAt(t, root, "oldest", base)
	mkdirAt(t, root, "middle", base.Add(10*time.Minute))
	mkdirAt(t, root, "newest", base.Add(20*time.Minute))

	var removed []string
	require.NoError(t, Prune(root, 2, func(dir string, err error) { removed = append(removed, dir) }))

	_, err := os.Stat(filepath.Join(root, "oldest"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "middle"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "newest"))
	require.NoError(t, err)
}

func TestPruneNoopWhenUnderLimit(t *testing.T) {
	root := t.TempDir()
	mkdirAt(t, root, "only", time.Now())

	require.NoError(t, Prune(root, 5, nil))
	_, err := os.Stat(filepath.Join(root, "only"))
	require.NoError(t, err)
}

func TestPruneIgnoresHiddenEntries(t *testing.T) {
	root := t.TempDir()
	mkdirAt(t, root, ".hidden", time.Now().Add(-time.Hour))
	mkdirAt(t, root, "visible", time.Now())

	require.NoError(t, Prune(root, 0, nil))
	_, err := os.Stat(filepath.Join(root, ".hidden"))
	require.NoError(t, err, "hidden directories are never pruning candidates")
	_, err = os.Stat(filepath.Join(root, "visible"))
	require.True(t, os.IsNotExist(err))
}
