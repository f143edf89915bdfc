package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirStore stores snapshots as files in a local directory.
type DirStore struct {
	dir string
	now func() time.Time
}

// NewDirStore creates a DirStore, creating dir if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir, now: time.Now}, nil
}

// Put writes obj atomically by renaming a temporary file into place.
func (s *DirStore) Put(_ context.Context, obj Object) error {
	path := filepath.Join(s.dir, filepath.Base(obj.Key))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, obj.Data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Prune removes snapshot files older than maxAge.
func (s *DirStore) Prune(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
