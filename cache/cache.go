// Package cache implements the durable query cache: a single embedded
// SQLite file holding versioned, TTL-bounded entries with LRU eviction.
//
// An entry is logically absent the moment its TTL passes or its version
// no longer matches the runtime version, even while the physical row
// lingers until the next cleanup. Reads advance recency; writes do not.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DefaultTTL is used when Options.TTL is unset.
const DefaultTTL = 15 * time.Minute

// DefaultMaxEntries is used when Options.MaxEntries is unset.
const DefaultMaxEntries = 1000

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	value            BLOB NOT NULL,
	version          TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_lru ON cache_entries(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries(expires_at);
`

// Store is the cache surface the coordinator depends on. Cache is the
// SQLite implementation; Noop is the degraded always-miss fallback used
// when the store cannot be opened.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context) (int64, error)
	InvalidateVersion(ctx context.Context, version string) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Options configures a Cache.
type Options struct {
	// TTL is the default time-to-live for Set calls that do not pass one.
	TTL time.Duration
	// MaxEntries bounds the store; inserting a new key at capacity evicts
	// the least-recently-read entry first.
	MaxEntries int
	// Version tags every write; entries tagged with any other version are
	// treated as misses and lazily deleted.
	Version string
	// Logger receives row-corruption and eviction warnings.
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats reports capacity and utilization.
type Stats struct {
	Entries     int64
	MaxEntries  int
	Utilization float64
	Hits        int64
	Misses      int64
}

// Cache is the SQLite-backed store.
type Cache struct {
	db         *sql.DB
	ttl        time.Duration
	maxEntries int
	version    string
	logger     *slog.Logger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// Open opens (or creates) the cache database at path, bootstraps the
// schema and eagerly removes rows that expired since the last run.
func Open(ctx context.Context, path string, opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := openDB("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	// The modernc driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: bootstrap schema: %w", err)
	}

	c := &Cache{
		db:         db,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		version:    opts.Version,
		logger:     opts.Logger,
		now:        opts.Now,
	}

	if n, err := c.Cleanup(ctx); err != nil {
		db.Close()
		return nil, err
	} else if n > 0 {
		c.logger.Info("removed expired cache entries at startup", "count", n)
	}

	return c, nil
}

// Get returns the value for key. A missing row, an expired row and a
// version-mismatched row are all plain misses; the latter two are deleted
// lazily. A hit advances last_accessed_at to now.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	nowMs := c.now().UnixMilli()

	var (
		value     []byte
		version   string
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, version, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &version, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.misses.Add(1)
		return nil, false, nil
	case err != nil:
		// A malformed row must not poison the whole cache: drop it and miss.
		c.logger.Warn("dropping malformed cache row", "key", key, "error", err)
		if _, delErr := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); delErr != nil {
			return nil, false, fmt.Errorf("cache: drop malformed row %q: %w", key, delErr)
		}
		c.misses.Add(1)
		return nil, false, nil
	}

	if nowMs >= expiresAt || version != c.version {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("cache: lazy delete %q: %w", key, err)
		}
		c.misses.Add(1)
		return nil, false, nil
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_accessed_at = ? WHERE key = ?`, nowMs, key,
	); err != nil {
		return nil, false, fmt.Errorf("cache: touch %q: %w", key, err)
	}

	c.hits.Add(1)
	return value, true, nil
}

// Set stores value under key. If key is new and the store is full, the
// single entry with the smallest last_accessed_at is evicted first.
//
// Updating an existing key keeps its prior last_accessed_at: recency is
// advanced by reads only, so a freshly written, never-read key is
// eviction-eligible immediately.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl ...time.Duration) error {
	d := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		d = ttl[0]
	}
	nowMs := c.now().UnixMilli()
	expiresAt := c.now().Add(d).UnixMilli()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin set %q: %w", key, err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE key = ?`, key,
	).Scan(&exists); err != nil {
		return fmt.Errorf("cache: probe %q: %w", key, err)
	}

	if exists == 0 {
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
			return fmt.Errorf("cache: count entries: %w", err)
		}
		if total >= c.maxEntries {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cache_entries WHERE key = (
					SELECT key FROM cache_entries ORDER BY last_accessed_at ASC, key ASC LIMIT 1
				)`,
			); err != nil {
				return fmt.Errorf("cache: evict lru: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, version, created_at, updated_at, expires_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			version    = excluded.version,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		key, value, c.version, nowMs, nowMs, expiresAt, nowMs,
	); err != nil {
		return fmt.Errorf("cache: upsert %q: %w", key, err)
	}

	return tx.Commit()
}

// Delete removes a single entry. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	return nil
}

// Cleanup eagerly deletes every row past its expiry and returns the count.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// InvalidateVersion bulk-deletes all rows tagged with version v. Used for
// schema migrations; current-version entries are untouched.
func (c *Cache) InvalidateVersion(ctx context.Context, v string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE version = ?`, v)
	if err != nil {
		return 0, fmt.Errorf("cache: invalidate version %q: %w", v, err)
	}
	return res.RowsAffected()
}

// Stats returns capacity and utilization counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var entries int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&entries); err != nil {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return Stats{
		Entries:     entries,
		MaxEntries:  c.maxEntries,
		Utilization: float64(entries) / float64(c.maxEntries),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
	}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }
