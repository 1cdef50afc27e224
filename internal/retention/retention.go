// Package retention implements the "keep the newest N, delete the rest"
// pruning algorithm shared by the cloner (§4.5, pruning old build trees)
// and the standalone cleaner daemon (§4.14, pruning old work directories).
// Grounded on internal/cloner's pruneHistory.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Prune keeps the keep most-recently-modified non-hidden subdirectories of
// root and deletes the rest. keep <= 0 deletes every candidate.
// onError is called (and pruning continues) if removing a directory fails;
// pass nil to ignore such errors.
func Prune(root string, keep int, onError func(dir string, err error)) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("retention: read root: %w", err)
	}

	type dirTime struct {
		name  string
		mtime time.Time
	}
	var dirs []dirTime
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirTime{e.Name(), info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mtime.Before(dirs[j].mtime) })

	if keep < 0 {
		keep = 0
	}
	if len(dirs) <= keep {
		return nil
	}

	doomed := dirs
	if keep > 0 {
		doomed = dirs[:len(dirs)-keep]
	}
	for _, d := range doomed {
		if err := os.RemoveAll(filepath.Join(root, d.name)); err != nil && onError != nil {
			onError(d.name, err)
		}
	}
	return nil
}
