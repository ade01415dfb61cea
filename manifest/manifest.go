// Package manifest snapshots the identity of tracked files (content hash,
// size, mtime) and diffs snapshots to decide what needs reprocessing. It
// runs off the query path entirely.
package manifest

import (
	"fmt"
	"os"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/hupe1980/knowcache/internal/fs"
)

const (
	// FileName is the manifest document name inside a knowledge root.
	FileName = "manifest.json"
	// CurrentVersion is the manifest document version.
	CurrentVersion = 1
)

// FileInfo is the recorded identity of one tracked file.
type FileInfo struct {
	Hash  string    `json:"hash"`
	Size  int64     `json:"size"`
	MTime time.Time `json:"mtime"`
}

// ScanStats describes one Generate run.
type ScanStats struct {
	Scanned  int           `json:"scanned"`
	Skipped  int           `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Manifest is one snapshot of every tracked file in a knowledge root.
// Files is replaced wholesale on each Generate; entries are never patched
// in place.
type Manifest struct {
	Version     int                 `json:"version"`
	GeneratedAt time.Time           `json:"generated_at"`
	Files       map[string]FileInfo `json:"files"`
	Stats       ScanStats           `json:"stats"`
}

// Store persists the manifest document with all-or-nothing commits, so a
// cancelled or failed scan can never replace a good snapshot with a
// partial one.
type Store struct {
	fs   fs.FileSystem
	path string
	mu   sync.Mutex
}

// NewStore creates a manifest store at path. fsys may be nil for the local
// filesystem.
func NewStore(fsys fs.FileSystem, path string) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Store{fs: fsys, path: path}
}

// Load reads the current manifest. A missing file returns (nil, nil):
// no baseline yet.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := fs.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", s.path, err)
	}

	var m Manifest
	if err := gojson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", s.path, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("manifest: unsupported version %d (expected %d)", m.Version, CurrentVersion)
	}

	return &m, nil
}

// Save atomically commits a new manifest snapshot.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion

	data, err := gojson.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}

	if err := fs.WriteAtomic(s.fs, s.path, data); err != nil {
		return fmt.Errorf("manifest: commit: %w", err)
	}
	return nil
}
