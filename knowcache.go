package knowcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/knowcache/bloom"
	"github.com/hupe1980/knowcache/cache"
	"github.com/hupe1980/knowcache/codec"
	"github.com/hupe1980/knowcache/internal/fs"
	"github.com/hupe1980/knowcache/manifest"
	"github.com/hupe1980/knowcache/model"
	"github.com/hupe1980/knowcache/tiered"
)

// Layout under the knowledge root. Session files are the source of truth;
// everything else is a derived artifact the coordinator can rebuild.
const (
	sessionsDir  = "sessions"
	indexDir     = "index"
	detailsDir   = "index/details"
	summaryName  = "index/summary"
	filterName   = "index/filter.kbf"
	cacheDirName = "cache"
	cacheDBName  = "knowcache.db"
)

// entryVersion tags cache rows with the result-payload schema. Bumping it
// invalidates every cached answer on upgrade.
const entryVersion = "v1"

// Defaults for Config zero values.
const (
	DefaultCacheTTL               = 15 * time.Minute
	DefaultCacheMaxEntries        = 1000
	DefaultBloomFalsePositiveRate = 0.01
)

// Source identifies the pipeline stage that answered a query.
type Source string

const (
	// SourceBloom marks a definite negative from the filter, no I/O done.
	SourceBloom Source = "bloom"
	// SourceCache marks an answer served from the persistent cache.
	SourceCache Source = "cache"
	// SourceIndex marks an answer computed by scanning the summary tier.
	SourceIndex Source = "index"
)

// Config holds explicit coordinator configuration. Zero values fall back
// to the Default* constants; Root is required.
type Config struct {
	// Root is the knowledge-root directory. Created if absent.
	Root string

	// CacheTTL bounds how long a cached answer is served.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the persistent cache; the least recently
	// read entry is evicted when a new key would exceed it.
	CacheMaxEntries int

	// BloomFalsePositiveRate is the target rate for the negative filter.
	BloomFalsePositiveRate float64

	// TrackedPatterns are the glob patterns (relative to Root, slash
	// separated) the change manifest watches. Defaults to the session
	// files in every readable representation.
	TrackedPatterns []string
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		c.BloomFalsePositiveRate = DefaultBloomFalsePositiveRate
	}
	if len(c.TrackedPatterns) == 0 {
		c.TrackedPatterns = []string{sessionsDir + "/*"}
	}
}

// QueryResult is the answer to one query.
type QueryResult struct {
	// Found reports whether any record matched.
	Found bool

	// Results holds the scored summary matches, best first.
	Results []tiered.Match

	// Source is the stage that produced the answer.
	Source Source
}

// RebuildStats describes one rebuild attempt.
type RebuildStats struct {
	Skipped  bool
	FirstRun bool
	Forced   bool
	Records  int
	Changed  int
	Added    int
	Deleted  int
	Elapsed  time.Duration
}

// Stats is a point-in-time snapshot of coordinator state.
type Stats struct {
	Records     int
	BloomSkips  int64
	CacheHits   int64
	CacheMisses int64
	Degraded    bool
	FilterItems uint32
	FilterFPR   float64
	FilterStats bloom.Stats
	Cache       cache.Stats
}

// Coordinator owns one knowledge root: the negative filter, the
// persistent cache, the tiered index, and the change manifest. Queries
// cascade through increasingly expensive stages; the manifest runs off
// the query path and decides when the derived artifacts must be rebuilt.
type Coordinator struct {
	cfg     Config
	logger  *Logger
	metrics MetricsCollector
	plain   codec.Codec
	blob    *codec.Binary
	res     *codec.Resolver

	store     cache.Store
	degraded  bool
	manifests *manifest.Store
	scanner   *manifest.Generator
	details   *tiered.DetailStore

	// mu guards pointer swaps only: summaries and filter are immutable
	// once published, so queries read them lock-free after the copy.
	mu          sync.RWMutex
	summaries   *tiered.SummaryIndex
	filter      *bloom.Filter
	filterDirty bool

	statsMu     sync.Mutex
	filterStats bloom.Stats

	bloomSkips  atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	closed atomic.Bool
}

// New constructs a Coordinator for cfg.Root, creating the root layout if
// needed and loading any persisted artifacts. A cache store that cannot
// be opened degrades to an always-miss store with a one-time warning
// instead of failing construction.
func New(ctx context.Context, cfg Config, optFns ...Option) (*Coordinator, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, ErrInvalidRoot
	}
	cfg.applyDefaults()

	o := applyOptions(optFns)

	for _, dir := range []string{sessionsDir, detailsDir, cacheDirName} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
		}
	}

	scanner, err := manifest.NewGenerator(cfg.Root, cfg.TrackedPatterns, o.logger.Logger)
	if err != nil {
		return nil, err
	}
	blob, err := codec.NewBlob(o.plain)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:         cfg,
		logger:      o.logger,
		metrics:     o.metricsCollector,
		plain:       o.plain,
		blob:        blob,
		res:         codec.NewResolver(o.plain, o.logger.Logger),
		manifests:   manifest.NewStore(nil, filepath.Join(cfg.Root, manifest.FileName)),
		scanner:     scanner,
		details:     tiered.NewDetailStore(filepath.Join(cfg.Root, detailsDir), o.plain, nil, o.logger.Logger),
		summaries:   tiered.NewSummaryIndex(nil),
		filterDirty: true,
	}

	c.openCache(ctx, o)
	c.loadArtifacts()

	return c, nil
}

// openCache opens the persistent cache, falling back to the degraded
// always-miss store when the database is unreachable.
func (c *Coordinator) openCache(ctx context.Context, o options) {
	path := filepath.Join(c.cfg.Root, cacheDirName, cacheDBName)
	store, err := cache.Open(ctx, path, cache.Options{
		TTL:        c.cfg.CacheTTL,
		MaxEntries: c.cfg.CacheMaxEntries,
		Version:    entryVersion,
		Logger:     o.logger.Logger,
		Now:        o.now,
	})
	if err != nil {
		c.logger.Warn("cache store unreachable, degrading to always-miss mode",
			"path", path,
			"error", err,
		)
		c.store = cache.Noop{}
		c.degraded = true
		return
	}
	c.store = store
}

// loadArtifacts restores the summary tier and the filter from disk.
// Missing or incompatible artifacts leave empty in-memory state and mark
// the filter dirty so the next Rebuild recreates them even when the
// manifest is clean.
func (c *Coordinator) loadArtifacts() {
	si, err := tiered.LoadSummaryIndex(c.res, filepath.Join(c.cfg.Root, summaryName))
	switch {
	case err == nil:
		c.summaries = si
	case errors.Is(err, codec.ErrNotFound):
		// Fresh root.
	default:
		c.logger.Warn("summary index unreadable, starting empty",
			"error", err,
		)
	}

	path := filepath.Join(c.cfg.Root, filterName)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	filter, err := bloom.Read(f)
	if err != nil {
		// Stale parameters or a foreign hash scheme must never be
		// trusted; the gate stays open until the next rebuild.
		c.logger.Warn("bloom filter rejected, rebuild required",
			"path", path,
			"error", err,
		)
		return
	}
	if !filter.CompatibleWith(len(c.summaries.Tokens()), c.cfg.BloomFalsePositiveRate) {
		// The persisted filter was sized for other parameters; reusing
		// it silently would pin the old false-positive rate.
		c.logger.Warn("bloom filter parameters mismatch configuration, rebuild required",
			"path", path,
			"filter_fpr", filter.TargetFPR(),
			"configured_fpr", c.cfg.BloomFalsePositiveRate,
		)
		return
	}
	c.filter = filter
	c.filterDirty = false
}

// Query runs the staged lookup for term:
// filter gate, then cache, then summary scan. A definite filter negative
// returns immediately with zero further I/O; scan results are written
// back to the cache before returning.
func (c *Coordinator) Query(ctx context.Context, term string) (*QueryResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	res, err := c.query(ctx, term)
	c.metrics.RecordQuery(sourceOf(res), time.Since(start), err)
	c.logger.LogQuery(ctx, term, sourceOf(res), resultCount(res), err)

	return res, err
}

func (c *Coordinator) query(ctx context.Context, term string) (*QueryResult, error) {
	tokens := tiered.Tokenize(term)

	c.mu.RLock()
	summaries, filter := c.summaries, c.filter
	c.mu.RUnlock()

	// A negative is only definite when no token may be present.
	if filter != nil && noneMayContain(filter, tokens) {
		c.bloomSkips.Add(1)
		c.metrics.RecordBloomSkip()
		c.recordGate(filter, false, false)
		return &QueryResult{Found: false, Source: SourceBloom}, nil
	}

	key := cacheKey(tokens)
	if data, ok, err := c.store.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		if res, err := c.decodeCached(data); err == nil {
			c.cacheHits.Add(1)
			c.metrics.RecordCacheHit()
			c.recordGate(filter, true, res.Found)
			return res, nil
		}
		// An undecodable payload is a miss; drop it so it cannot recur.
		_ = c.store.Delete(ctx, key)
	}
	c.cacheMisses.Add(1)
	c.metrics.RecordCacheMiss()

	matches := summaries.Search(tokens)
	res := &QueryResult{
		Found:   len(matches) > 0,
		Results: matches,
		Source:  SourceIndex,
	}
	c.recordGate(filter, true, res.Found)

	if data, err := c.encodeCached(res); err == nil {
		if err := c.store.Set(ctx, key, data); err != nil {
			c.logger.Debug("result caching failed",
				"key", key,
				"error", err,
			)
		}
	}

	return res, nil
}

// recordGate feeds the filter-effectiveness counters: a maybe-yes that
// the cascade found empty is a confirmed false positive.
func (c *Coordinator) recordGate(filter *bloom.Filter, filterResult, actualResult bool) {
	if filter == nil {
		return
	}
	c.statsMu.Lock()
	c.filterStats.Update(filterResult, actualResult)
	c.statsMu.Unlock()
}

// GetDetail loads the full detail blob for one record id through the
// representation chain. Absent details surface as ErrNotFound.
func (c *Coordinator) GetDetail(ctx context.Context, id model.RecordID) (model.DetailBlob, error) {
	if c.closed.Load() {
		return model.DetailBlob{}, ErrClosed
	}

	start := time.Now()
	blob, err := c.details.Load(id)
	err = translateError(err)
	c.metrics.RecordDetailLoad(time.Since(start), err)
	c.logger.LogDetailLoad(ctx, string(id), err)

	return blob, err
}

// Rebuild regenerates the derived artifacts (summary tier, detail store,
// filter, manifest baseline) from the session files. Without force it is
// incremental: an unchanged manifest skips the rebuild entirely.
func (c *Coordinator) Rebuild(ctx context.Context, force bool) (*RebuildStats, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	stats, err := c.rebuild(ctx, force)
	elapsed := time.Since(start)

	records := 0
	if stats != nil {
		stats.Elapsed = elapsed
		records = stats.Records
	}
	c.metrics.RecordRebuild(records, elapsed, err)
	if err != nil || stats == nil || !stats.Skipped {
		c.logger.LogRebuild(ctx, records, elapsed, err)
	}

	return stats, err
}

func (c *Coordinator) rebuild(ctx context.Context, force bool) (*RebuildStats, error) {
	current, err := c.scanner.Generate(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := c.manifests.Load()
	if err != nil {
		return nil, err
	}

	changes := manifest.DetectChanges(previous, current)
	stats := &RebuildStats{
		FirstRun: changes.IsFirstRun,
		Forced:   force,
		Changed:  len(changes.Changed),
		Added:    len(changes.Added),
		Deleted:  len(changes.Deleted),
	}

	c.mu.RLock()
	filterReady := !c.filterDirty
	c.mu.RUnlock()

	// A clean manifest only skips when the filter is trustworthy; a
	// dropped or parameter-mismatched filter forces the rebuild through.
	if !force && !changes.IsFirstRun && changes.Empty() && filterReady {
		stats.Skipped = true
		return stats, nil
	}

	records, err := c.loadRecords(ctx, current)
	if err != nil {
		return nil, err
	}
	stats.Records = len(records)

	if err := c.rebuildArtifacts(ctx, records); err != nil {
		return nil, err
	}
	if err := c.manifests.Save(current); err != nil {
		return nil, err
	}

	return stats, nil
}

// loadRecords resolves every tracked session file into a record. Tracked
// paths in different representations of the same logical file collapse to
// one resolve.
func (c *Coordinator) loadRecords(ctx context.Context, m *manifest.Manifest) ([]model.KnowledgeRecord, error) {
	logical := make(map[string]struct{}, len(m.Files))
	for rel := range m.Files {
		logical[c.logicalPath(rel)] = struct{}{}
	}

	paths := make([]string, 0, len(logical))
	for p := range logical {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	records := make([]model.KnowledgeRecord, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var wire model.WireRecord
		if err := c.res.Resolve(filepath.Join(c.cfg.Root, rel), &wire); err != nil {
			// A session file that resolves in no representation is
			// skipped, not fatal; the scan already warned about it.
			if errors.Is(err, codec.ErrNotFound) {
				continue
			}
			c.logger.Warn("session file unreadable, skipping",
				"path", rel,
				"error", err,
			)
			continue
		}
		records = append(records, model.FromWire(wire))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	return records, nil
}

// rebuildArtifacts splits records into the two tiers, persists them,
// rebuilds the filter over the index vocabulary, and drops every cached
// answer computed against the previous index.
func (c *Coordinator) rebuildArtifacts(ctx context.Context, records []model.KnowledgeRecord) error {
	si, blobs := tiered.Split(records)
	for _, blob := range blobs {
		if err := c.details.Save(blob); err != nil {
			return err
		}
	}

	if err := tiered.SaveSummaryIndex(nil, filepath.Join(c.cfg.Root, summaryName), si, c.blob); err != nil {
		return err
	}

	tokens := si.Tokens()
	filter := bloom.New(len(tokens), c.cfg.BloomFalsePositiveRate)
	for _, tok := range tokens {
		filter.Add(tok)
	}
	if err := c.saveFilter(filter); err != nil {
		return err
	}

	if _, err := c.store.InvalidateVersion(ctx, entryVersion); err != nil {
		c.logger.Warn("cache invalidation failed",
			"error", err,
		)
	}

	c.mu.Lock()
	c.summaries = si
	c.filter = filter
	c.filterDirty = false
	c.mu.Unlock()

	return nil
}

// SaveRecord appends one session record: the source file is written under
// sessions/, both tiers and the filter are updated incrementally, and the
// manifest baseline is refreshed so the next Rebuild sees a clean state.
func (c *Coordinator) SaveRecord(ctx context.Context, rec model.KnowledgeRecord) error {
	if c.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	err := c.saveRecord(ctx, rec)
	c.metrics.RecordSave(time.Since(start), err)
	c.logger.LogSave(ctx, string(rec.ID), err)

	return err
}

func (c *Coordinator) saveRecord(ctx context.Context, rec model.KnowledgeRecord) error {
	if strings.TrimSpace(string(rec.ID)) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}

	plain := c.plain
	if plain == nil {
		plain = codec.Default
	}
	data, err := plain.Marshal(rec.ToWire())
	if err != nil {
		return fmt.Errorf("encode record %q: %w", rec.ID, err)
	}
	path := filepath.Join(c.cfg.Root, sessionsDir, string(rec.ID)+".json")
	if err := fs.WriteAtomic(nil, path, data); err != nil {
		return err
	}

	s, d := rec.Split()
	if err := c.details.Save(d); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Published indexes are read lock-free by queries, so the update
	// builds replacements and swaps the pointers, never mutating in
	// place. A re-saved id replaces its previous summary rather than
	// duplicating it.
	entries := make([]model.Summary, 0, c.summaries.Len()+1)
	replaced := false
	for _, e := range c.summaries.Entries() {
		if e.ID == s.ID {
			entries = append(entries, s)
			replaced = true
			continue
		}
		entries = append(entries, e)
	}
	if !replaced {
		entries = append(entries, s)
	}
	si := tiered.NewSummaryIndex(entries)

	if err := tiered.SaveSummaryIndex(nil, filepath.Join(c.cfg.Root, summaryName), si, c.blob); err != nil {
		return err
	}

	filter := c.filter
	if filter != nil {
		filter = filter.Clone()
		for _, tok := range tiered.Tokenize(s.Summary) {
			filter.Add(tok)
		}
		for _, tag := range s.Tags {
			filter.Add(tag)
			for _, tok := range tiered.Tokenize(tag) {
				filter.Add(tok)
			}
		}
		filter.Add(s.Project)
		if err := c.saveFilter(filter); err != nil {
			return err
		}
	}

	c.summaries = si
	c.filter = filter

	// Cached answers may now be stale.
	if _, err := c.store.InvalidateVersion(ctx, entryVersion); err != nil {
		c.logger.Warn("cache invalidation failed",
			"error", err,
		)
	}

	// Refresh the baseline so the new file does not trigger a full
	// rebuild on the next run.
	if m, err := c.scanner.Generate(ctx); err == nil {
		if err := c.manifests.Save(m); err != nil {
			c.logger.Warn("manifest refresh failed",
				"error", err,
			)
		}
	}

	return nil
}

// Stats returns a snapshot of coordinator state for callers that surface
// diagnostics.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	if c.closed.Load() {
		return Stats{}, ErrClosed
	}

	cs, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	c.statsMu.Lock()
	gate := c.filterStats
	c.statsMu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Records:     c.summaries.Len(),
		BloomSkips:  c.bloomSkips.Load(),
		CacheHits:   c.cacheHits.Load(),
		CacheMisses: c.cacheMisses.Load(),
		Degraded:    c.degraded,
		FilterStats: gate,
		Cache:       cs,
	}
	if c.filter != nil {
		s.FilterItems = c.filter.Count()
		s.FilterFPR = c.filter.EstimatedFalsePositiveRate()
	}

	return s, nil
}

// Close releases the cache store. Further calls return ErrClosed.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return c.store.Close()
}

func (c *Coordinator) saveFilter(f *bloom.Filter) error {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return err
	}
	return fs.WriteAtomic(nil, filepath.Join(c.cfg.Root, filterName), buf.Bytes())
}

// logicalPath strips the representation extension from a tracked path so
// the resolver chain can pick the best surviving representation.
func (c *Coordinator) logicalPath(rel string) string {
	for _, ext := range c.res.Extensions() {
		if logical, ok := strings.CutSuffix(rel, ext); ok {
			return logical
		}
	}
	return rel
}

// cachedResult is the cache payload shape for one answer.
type cachedResult struct {
	Found   bool          `json:"f"`
	Matches []cachedMatch `json:"m,omitempty"`
}

type cachedMatch struct {
	Summary model.WireSummary `json:"s"`
	Score   int               `json:"sc"`
}

func (c *Coordinator) encodeCached(res *QueryResult) ([]byte, error) {
	plain := c.plain
	if plain == nil {
		plain = codec.Default
	}

	out := cachedResult{Found: res.Found}
	for _, m := range res.Results {
		out.Matches = append(out.Matches, cachedMatch{
			Summary: m.Summary.ToWire(),
			Score:   m.Score,
		})
	}
	return plain.Marshal(out)
}

func (c *Coordinator) decodeCached(data []byte) (*QueryResult, error) {
	plain := c.plain
	if plain == nil {
		plain = codec.Default
	}

	var in cachedResult
	if err := plain.Unmarshal(data, &in); err != nil {
		return nil, err
	}

	res := &QueryResult{Found: in.Found, Source: SourceCache}
	for _, m := range in.Matches {
		res.Results = append(res.Results, tiered.Match{
			Summary: model.SummaryFromWire(m.Summary),
			Score:   m.Score,
		})
	}
	return res, nil
}

func cacheKey(tokens []string) string {
	return "q:" + strings.Join(tokens, " ")
}

func noneMayContain(f *bloom.Filter, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if f.MayContain(tok) {
			return false
		}
	}
	return true
}

func sourceOf(res *QueryResult) Source {
	if res == nil {
		return SourceIndex
	}
	return res.Source
}

func resultCount(res *QueryResult) int {
	if res == nil {
		return 0
	}
	return len(res.Results)
}
