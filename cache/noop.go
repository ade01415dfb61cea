package cache

import (
	"context"
	"time"
)

// Noop is the degraded always-miss store. The coordinator falls back to it
// with a one-time warning when the cache database cannot be opened, so an
// unreachable store never crashes the caller.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, ...time.Duration) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) Cleanup(context.Context) (int64, error) { return 0, nil }

func (Noop) InvalidateVersion(context.Context, string) (int64, error) { return 0, nil }

func (Noop) Stats(context.Context) (Stats, error) { return Stats{}, nil }

func (Noop) Close() error { return nil }
