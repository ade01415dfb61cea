package knowcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/knowcache/codec"
)

var (
	// ErrNotFound is returned when a record, detail blob, or artifact is
	// not found. Recoverable; surfaces as an empty result, never fatal.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed Coordinator.
	ErrClosed = errors.New("coordinator is closed")

	// ErrInvalidRoot is returned when the configured knowledge root is
	// empty or unusable.
	ErrInvalidRoot = errors.New("invalid knowledge root")

	// ErrInvalidRecord is returned when a record cannot be saved
	// (e.g. an empty id).
	ErrInvalidRecord = errors.New("invalid record")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification across the leaf packages.
	if errors.Is(err, codec.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Decode errors carry path and attempted formats; pass them through
	// intact so callers can errors.As them.
	return err
}
