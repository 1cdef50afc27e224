package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore writes blobs under Root, creating parent directories for key
// as needed.
type LocalStore struct {
	Root string
}

// NewLocalStore builds a LocalStore rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

// Put writes data to Root/key, creating parent directories.
func (s *LocalStore) Put(ctx context.Context, key string, data io.Reader) error {
	path := filepath.Join(s.Root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	return nil
}

// Exists reports whether key already has something stored at it.
func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	_, err := os.Stat(filepath.Join(s.Root, key))
	return err == nil
}
