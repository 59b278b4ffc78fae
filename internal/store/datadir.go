package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir is the database's persisted data directory on the host.
type DataDir struct {
	path string
}

// NewDataDir returns a handle for path. An empty path disables detection.
func NewDataDir(path string) *DataDir {
	return &DataDir{path: path}
}

// Path returns the directory path.
func (d *DataDir) Path() string {
	return d.path
}

// HasData reports whether the directory exists and holds any entry.
func (d *DataDir) HasData() (bool, error) {
	if d.path == "" {
		return false, nil
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect data directory %s: %w", d.path, err)
	}
	return len(entries) > 0, nil
}

// Clear removes everything inside the directory and keeps the directory
// itself, so bind mounts stay valid.
func (d *DataDir) Clear() error {
	abs, err := filepath.Abs(d.path)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if d.path == "" || abs == filepath.Dir(abs) {
		return fmt.Errorf("refusing to clear data directory %q", d.path)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read data directory %s: %w", abs, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(abs, e.Name())); err != nil {
			return fmt.Errorf("failed to clear data directory %s: %w", abs, err)
		}
	}
	return nil
}
