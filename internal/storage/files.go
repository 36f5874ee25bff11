// Package storage provides the durable file primitives used for audio and feature output.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer persists a named blob
type Writer interface {
	WriteFile(name string, data []byte) error
}

// Dir writes files into a single output directory
type Dir struct {
	path string
	perm os.FileMode
}

// NewDir creates the directory if needed
func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", path, err)
	}

	return &Dir{path: path, perm: 0o644}, nil
}

// Path returns the directory path
func (d *Dir) Path() string {
	return d.path
}

// WriteFile writes data to a temp file in the same directory, syncs it and renames
// it over name, so readers never observe a partially written file
func (d *Dir) WriteFile(name string, data []byte) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid file name %q", name)
	}

	tmp, err := os.CreateTemp(d.path, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}

	if err := tmp.Chmod(d.perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(d.path, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}

	return nil
}
