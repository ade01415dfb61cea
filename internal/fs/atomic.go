package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic commits data to path with all-or-nothing semantics: the
// bytes go to a temp file first, are fsynced, and only then renamed over
// the destination. A failure at any step leaves the previous file (or its
// absence) untouched.
func WriteAtomic(fsys FileSystem, path string, data []byte) error {
	if fsys == nil {
		fsys = Default
	}

	tmp := path + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fs: open temp for %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return fmt.Errorf("fs: write temp for %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return fmt.Errorf("fs: sync temp for %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("fs: close temp for %s: %w", path, err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("fs: rename temp for %s: %w", path, err)
	}

	return syncDir(fsys, filepath.Dir(path))
}

// ReadFile reads the whole file through the abstraction.
func ReadFile(fsys FileSystem, path string) ([]byte, error) {
	if fsys == nil {
		fsys = Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// syncDir persists a rename by syncing the containing directory.
func syncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
