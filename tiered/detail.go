package tiered

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hupe1980/knowcache/codec"
	"github.com/hupe1980/knowcache/internal/fs"
	"github.com/hupe1980/knowcache/model"
)

// DetailStore persists detail blobs as one file per record id under a
// directory. Writes use the canonical binary frame; reads go through the
// full representation chain so legacy compressed or plain-text files keep
// resolving.
type DetailStore struct {
	dir      string
	fsys     fs.FileSystem
	frame    *codec.Binary
	resolver *codec.Resolver
}

// NewDetailStore creates a store rooted at dir. plain, fsys and logger may
// be nil for defaults.
func NewDetailStore(dir string, plain codec.Codec, fsys fs.FileSystem, logger *slog.Logger) *DetailStore {
	if fsys == nil {
		fsys = fs.Default
	}
	return &DetailStore{
		dir:      dir,
		fsys:     fsys,
		frame:    codec.NewBinary(plain),
		resolver: codec.NewResolver(plain, logger),
	}
}

// Save atomically writes the canonical representation of one blob.
func (ds *DetailStore) Save(blob model.DetailBlob) error {
	if err := validateID(blob.ID); err != nil {
		return err
	}
	if err := ds.fsys.MkdirAll(ds.dir, 0o755); err != nil {
		return fmt.Errorf("tiered: create detail dir: %w", err)
	}

	data, err := ds.frame.Encode(blob.ToWire())
	if err != nil {
		return fmt.Errorf("tiered: encode detail %q: %w", blob.ID, err)
	}
	if err := fs.WriteAtomic(ds.fsys, ds.path(blob.ID)+".bin", data); err != nil {
		return fmt.Errorf("tiered: commit detail %q: %w", blob.ID, err)
	}
	return nil
}

// Load resolves the detail blob for id through the representation chain.
// A record with no detail file returns codec.ErrNotFound.
func (ds *DetailStore) Load(id model.RecordID) (model.DetailBlob, error) {
	if err := validateID(id); err != nil {
		return model.DetailBlob{}, err
	}

	var wire model.WireDetail
	if err := ds.resolver.Resolve(ds.path(id), &wire); err != nil {
		return model.DetailBlob{}, err
	}
	return model.DetailFromWire(wire), nil
}

func (ds *DetailStore) path(id model.RecordID) string {
	return filepath.Join(ds.dir, string(id))
}

// validateID rejects ids that would escape the store directory.
func validateID(id model.RecordID) error {
	s := string(id)
	if s == "" || s == "." || s == ".." ||
		strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("tiered: invalid record id %q", s)
	}
	return nil
}
