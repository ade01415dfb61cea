package manifest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"
)

// scanConcurrency bounds parallel file hashing; knowledge roots hold a few
// thousand small files at most, so a small fan-out saturates local disks.
const scanConcurrency = 8

// Generator enumerates tracked files under a root and produces manifest
// snapshots.
type Generator struct {
	root     string
	patterns []glob.Glob
	raw      []string
	logger   *slog.Logger
}

// NewGenerator compiles the tracked-file patterns (slash-separated,
// relative to root; gobwas/glob syntax with "**" support).
func NewGenerator(root string, patterns []string, logger *slog.Logger) (*Generator, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("manifest: at least one tracked pattern is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("manifest: compile pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}

	return &Generator{root: root, patterns: compiled, raw: patterns, logger: logger}, nil
}

// Patterns returns the raw tracked-file patterns.
func (g *Generator) Patterns() []string { return g.raw }

// Generate walks the root, hashes every file matching a tracked pattern
// and returns a fresh snapshot. Per-file stat/read failures are skipped
// and recorded as warnings; cancellation aborts the whole scan with an
// error so the caller never commits a partial snapshot.
func (g *Generator) Generate(ctx context.Context) (*Manifest, error) {
	start := time.Now()

	paths, err := g.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		files    = make(map[string]FileInfo, len(paths))
		warnings []string
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(scanConcurrency)

	for _, rel := range paths {
		rel := rel
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			info, err := g.fingerprint(rel)
			if err != nil {
				g.logger.Warn("skipping unreadable tracked file", "path", rel, "error", err)
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("%s: %v", rel, err))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			files[rel] = info
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("manifest: scan aborted: %w", err)
	}

	return &Manifest{
		Version:     CurrentVersion,
		GeneratedAt: time.Now().UTC(),
		Files:       files,
		Stats: ScanStats{
			Scanned:  len(files),
			Skipped:  len(warnings),
			Elapsed:  time.Since(start),
			Warnings: warnings,
		},
	}, nil
}

// enumerate collects the relative paths of all pattern matches.
func (g *Generator) enumerate(ctx context.Context) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(g.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories are a per-file concern, not fatal.
			g.logger.Warn("skipping unreadable path during scan", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(g.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		for _, p := range g.patterns {
			if p.Match(rel) {
				paths = append(paths, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: enumerate %s: %w", g.root, err)
	}

	return paths, nil
}

// fingerprint computes the identity of one tracked file.
func (g *Generator) fingerprint(rel string) (FileInfo, error) {
	full := filepath.Join(g.root, filepath.FromSlash(rel))

	f, err := os.Open(full)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return FileInfo{}, err
	}

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Hash:  fmt.Sprintf("xxh64:%016x", h.Sum64()),
		Size:  stat.Size(),
		MTime: stat.ModTime().UTC(),
	}, nil
}

// HashFile fingerprints a single file with the same digest the scanner
// uses; callers compare it against manifest entries via NeedsRebuild.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("xxh64:%016x", h.Sum64()), nil
}
