package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrNotFound is returned by Resolve when no representation exists at the
// logical path. Callers treat it as an empty result, never as fatal.
var ErrNotFound = errors.New("codec: no representation found")

// DecodeError reports that representations existed at a logical path but
// none of them decoded. It is only returned once every candidate failed.
type DecodeError struct {
	Path     string
	Attempts []string
	cause    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: all representations failed for %s (tried %s)", e.Path, strings.Join(e.Attempts, ", "))
}

func (e *DecodeError) Unwrap() error { return e.cause }

// Representation is one on-disk format tried by the resolver. Adding a new
// format is a one-entry insertion into the chain.
type Representation struct {
	// Name identifies the format in logs and errors.
	Name string
	// Ext is appended to the logical path to locate the candidate file.
	Ext string
	// Decode parses the raw file contents into v.
	Decode func(data []byte, v any) error
}

// Resolver tries representations of a logical path in strict priority
// order and returns the first that exists and decodes. A representation
// that exists but fails to decode is logged and skipped, never fatal on
// its own.
type Resolver struct {
	chain  []Representation
	logger *slog.Logger
}

// NewResolver creates a resolver with the given chain, or the default
// chain if none is given. The plain codec decodes the text
// representations; frames select their codec from their own header.
func NewResolver(plain Codec, logger *slog.Logger, chain ...Representation) *Resolver {
	if plain == nil {
		plain = Default
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(chain) == 0 {
		chain = DefaultChain(plain)
	}
	return &Resolver{chain: chain, logger: logger}
}

// DefaultChain returns the built-in representation priority order:
// compiled cache blob, binary frame, zstd text, lz4 text, plain text.
func DefaultChain(plain Codec) []Representation {
	frame := NewBinary(plain)
	return []Representation{
		{Name: "blob", Ext: ".knb", Decode: frame.Decode},
		{Name: "binary", Ext: ".bin", Decode: frame.Decode},
		{Name: "zstd", Ext: ".json.zst", Decode: zstdDecode(plain)},
		{Name: "lz4", Ext: ".json.lz4", Decode: lz4Decode(plain)},
		{Name: "plain", Ext: ".json", Decode: plain.Unmarshal},
	}
}

// Extensions returns the file extensions of the chain in priority order.
func (r *Resolver) Extensions() []string {
	exts := make([]string, len(r.chain))
	for i, rep := range r.chain {
		exts[i] = rep.Ext
	}
	return exts
}

// Resolve decodes the highest-priority representation of the logical path
// into v. It returns ErrNotFound when no candidate file exists, and a
// *DecodeError when candidates existed but all failed to decode. The only
// I/O is reading candidate files.
func (r *Resolver) Resolve(path string, v any) error {
	var (
		attempts []string
		lastErr  error
	)

	for _, rep := range r.chain {
		data, err := os.ReadFile(path + rep.Ext)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("representation unreadable, falling through",
					"path", path+rep.Ext, "format", rep.Name, "error", err)
				attempts = append(attempts, rep.Name)
				lastErr = err
			}
			continue
		}

		if err := rep.Decode(data, v); err != nil {
			r.logger.Warn("representation failed to decode, falling through",
				"path", path+rep.Ext, "format", rep.Name, "error", err)
			attempts = append(attempts, rep.Name)
			lastErr = err
			continue
		}

		return nil
	}

	if len(attempts) > 0 {
		return &DecodeError{Path: path, Attempts: attempts, cause: lastErr}
	}
	return ErrNotFound
}

func zstdDecode(plain Codec) func(data []byte, v any) error {
	return func(data []byte, v any) error {
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return err
		}
		defer dec.Close()
		raw, err := io.ReadAll(dec)
		if err != nil {
			return err
		}
		return plain.Unmarshal(raw, v)
	}
}

func lz4Decode(plain Codec) func(data []byte, v any) error {
	return func(data []byte, v any) error {
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return err
		}
		return plain.Unmarshal(raw, v)
	}
}
