package knowcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knowcache/model"
)

func testRecord(id, project, summary string, tags ...string) model.KnowledgeRecord {
	return model.KnowledgeRecord{
		ID:      model.RecordID(id),
		Project: project,
		Date:    time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
		Summary: summary,
		Tags:    tags,
		Decisions: []string{
			"kept the retry budget in configuration",
		},
		Outcomes: []string{
			"latency regression resolved",
		},
		ChangeStats: model.ChangeStats{FilesChanged: 2, Insertions: 40, Deletions: 5},
	}
}

func openCoordinator(t *testing.T, optFns ...Option) *Coordinator {
	t.Helper()
	c, err := New(context.Background(), Config{Root: t.TempDir()}, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func seed(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.SaveRecord(ctx, testRecord("s-001", "gateway", "refactored the auth flow", "auth")))
	require.NoError(t, c.SaveRecord(ctx, testRecord("s-002", "gateway", "tuned cache eviction thresholds", "perf", "cache")))
	require.NoError(t, c.SaveRecord(ctx, testRecord("s-003", "billing", "migrated invoice exports", "billing")))

	_, err := c.Rebuild(ctx, true)
	require.NoError(t, err)
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrInvalidRoot)
}

func TestQuerySourceTransitions(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	// Cold query computes from the summary tier.
	res, err := c.Query(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, SourceIndex, res.Source)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, model.RecordID("s-001"), res.Results[0].Summary.ID)

	// The same query is now served from the cache, identically.
	cached, err := c.Query(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, cached.Source)
	assert.Equal(t, res.Found, cached.Found)
	assert.Equal(t, res.Results, cached.Results)

	// A term the index never saw is rejected by the filter with no I/O.
	neg, err := c.Query(ctx, "xj9qzv")
	require.NoError(t, err)
	assert.False(t, neg.Found)
	assert.Equal(t, SourceBloom, neg.Source)
	assert.Empty(t, neg.Results)
}

func TestQueryMultiTokenPassesGateOnAnyToken(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	// One known token is enough to reach the index even when the other
	// is unknown.
	res, err := c.Query(ctx, "auth xj9qzv")
	require.NoError(t, err)
	assert.Equal(t, SourceIndex, res.Source)
	assert.True(t, res.Found)
}

func TestQueryRanking(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	res, err := c.Query(ctx, "cache")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, model.RecordID("s-002"), res.Results[0].Summary.ID)
}

func TestGetDetail(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	blob, err := c.GetDetail(ctx, "s-001")
	require.NoError(t, err)
	assert.Equal(t, model.RecordID("s-001"), blob.ID)
	assert.NotEmpty(t, blob.Decisions)
	assert.Equal(t, 2, blob.ChangeStats.FilesChanged)

	_, err = c.GetDetail(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildSkipsWhenClean(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	stats, err := c.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.Zero(t, stats.Records)

	forced, err := c.Rebuild(ctx, true)
	require.NoError(t, err)
	assert.False(t, forced.Skipped)
	assert.True(t, forced.Forced)
	assert.Equal(t, 3, forced.Records)
}

func TestRebuildFirstRun(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)

	stats, err := c.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.True(t, stats.FirstRun)
	assert.False(t, stats.Skipped)
	assert.Zero(t, stats.Records)
}

func TestRebuildPicksUpExternalEdits(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	// Simulate an out-of-band edit to a tracked session file.
	path := filepath.Join(c.cfg.Root, sessionsDir, "s-001.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	stats, err := c.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, 1, stats.Changed)
	assert.Equal(t, 3, stats.Records)
}

func TestReopenRestoresArtifacts(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	c, err := New(ctx, Config{Root: root})
	require.NoError(t, err)
	require.NoError(t, c.SaveRecord(ctx, testRecord("s-001", "gateway", "refactored the auth flow", "auth")))
	_, err = c.Rebuild(ctx, true)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := New(ctx, Config{Root: root})
	require.NoError(t, err)
	defer reopened.Close()

	res, err := reopened.Query(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, res.Found)

	neg, err := reopened.Query(ctx, "xj9qzv")
	require.NoError(t, err)
	assert.Equal(t, SourceBloom, neg.Source, "the persisted filter must survive a reopen")
}

func TestSaveRecordIsQueryableWithoutRebuild(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	require.NoError(t, c.SaveRecord(ctx, testRecord("s-004", "gateway", "hardened webhook signatures", "webhooks")))

	res, err := c.Query(ctx, "webhooks")
	require.NoError(t, err)
	assert.True(t, res.Found)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, model.RecordID("s-004"), res.Results[0].Summary.ID)

	// The save refreshed the manifest baseline, so nothing is dirty.
	stats, err := c.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
}

func TestSaveRecordInvalidatesCachedAnswers(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	first, err := c.Query(ctx, "gateway")
	require.NoError(t, err)
	assert.Equal(t, SourceIndex, first.Source)

	require.NoError(t, c.SaveRecord(ctx, testRecord("s-005", "gateway", "added gateway rate limits", "perf")))

	// The previously cached answer must not be served stale.
	after, err := c.Query(ctx, "gateway")
	require.NoError(t, err)
	assert.Equal(t, SourceIndex, after.Source)
	assert.Len(t, after.Results, len(first.Results)+1)
}

func TestSaveRecordRejectsEmptyID(t *testing.T) {
	c := openCoordinator(t)
	err := c.SaveRecord(context.Background(), model.KnowledgeRecord{Summary: "no id"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestDegradedCacheMode(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// A directory where the database file belongs makes the store
	// unopenable; construction must still succeed.
	require.NoError(t, os.MkdirAll(filepath.Join(root, cacheDirName, cacheDBName), 0o755))

	c, err := New(ctx, Config{Root: root})
	require.NoError(t, err)
	defer c.Close()

	seed(t, c)

	// Every repeated query recomputes; the cache never hits.
	for i := 0; i < 3; i++ {
		res, err := c.Query(ctx, "auth")
		require.NoError(t, err)
		assert.Equal(t, SourceIndex, res.Source)
		assert.True(t, res.Found)
	}

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	assert.Zero(t, stats.CacheHits)
}

func TestStatsAndMetrics(t *testing.T) {
	ctx := context.Background()
	mc := &BasicMetricsCollector{}
	c := openCoordinator(t, WithMetricsCollector(mc))
	seed(t, c)

	_, err := c.Query(ctx, "auth") // miss -> index
	require.NoError(t, err)
	_, err = c.Query(ctx, "auth") // hit
	require.NoError(t, err)
	_, err = c.Query(ctx, "xj9qzv") // bloom skip
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.EqualValues(t, 1, stats.BloomSkips)
	assert.EqualValues(t, 1, stats.CacheHits)
	assert.EqualValues(t, 1, stats.CacheMisses)
	assert.False(t, stats.Degraded)
	assert.NotZero(t, stats.FilterItems)

	ms := mc.GetStats()
	assert.EqualValues(t, 3, ms.QueryCount)
	assert.EqualValues(t, 1, ms.BloomSkips)
	assert.EqualValues(t, 1, ms.CacheHits)
	assert.EqualValues(t, 1, ms.CacheMisses)
	assert.EqualValues(t, 1, ms.RebuildCount)
	assert.EqualValues(t, 3, ms.SaveCount)
}

func TestConcurrentQueryAndSave(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := c.Query(ctx, "auth eviction"); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			rec := testRecord(fmt.Sprintf("c-%03d", i), "gateway", "concurrent eviction tuning pass", "perf")
			if err := c.SaveRecord(ctx, rec); err != nil {
				errCh <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestReopenWithChangedFilterRateForcesRebuild(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	c, err := New(ctx, Config{Root: root})
	require.NoError(t, err)
	require.NoError(t, c.SaveRecord(ctx, testRecord("s-001", "gateway", "refactored the auth flow", "auth")))
	_, err = c.Rebuild(ctx, true)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := New(ctx, Config{Root: root, BloomFalsePositiveRate: 0.3})
	require.NoError(t, err)
	defer reopened.Close()

	reopened.mu.RLock()
	filter := reopened.filter
	reopened.mu.RUnlock()
	assert.Nil(t, filter, "a filter sized for other parameters must not be trusted")

	stats, err := reopened.Rebuild(ctx, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped, "a clean manifest must not skip while the filter needs rebuilding")

	reopened.mu.RLock()
	filter = reopened.filter
	reopened.mu.RUnlock()
	require.NotNil(t, filter)
	assert.Equal(t, 0.3, filter.TargetFPR())
}

func TestSaveRecordReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	require.NoError(t, c.SaveRecord(ctx, testRecord("s-010", "gateway", "original webhook summary", "webhooks")))
	require.NoError(t, c.SaveRecord(ctx, testRecord("s-010", "gateway", "revised webhook summary", "webhooks")))

	res, err := c.Query(ctx, "webhooks")
	require.NoError(t, err)
	require.Len(t, res.Results, 1, "a re-saved id must not duplicate its summary")
	assert.Equal(t, model.RecordID("s-010"), res.Results[0].Summary.ID)
	assert.Equal(t, "revised webhook summary", res.Results[0].Summary.Summary)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Records)
}

func TestNilOptionValuesKeepDefaults(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, Config{Root: t.TempDir()},
		WithLogger(nil), WithMetricsCollector(nil), WithCodec(nil))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Query(ctx, "anything")
	require.NoError(t, err)
}

func TestFilterEffectivenessTracking(t *testing.T) {
	ctx := context.Background()
	c := openCoordinator(t)
	seed(t, c)

	_, err := c.Query(ctx, "auth") // maybe yes, found
	require.NoError(t, err)
	_, err = c.Query(ctx, "xj9qzv") // definite no
	require.NoError(t, err)
	// A project name passes the gate but scores nothing on its own, so
	// the cascade comes back empty: a confirmed false positive.
	_, err = c.Query(ctx, "gateway")
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	gate := stats.FilterStats
	assert.EqualValues(t, 3, gate.Queries)
	assert.EqualValues(t, 1, gate.DefiniteNos)
	assert.EqualValues(t, 2, gate.MaybeYes)
	assert.EqualValues(t, 1, gate.ConfirmedFPs)
	assert.InDelta(t, 0.5, gate.ObservedFPRate, 1e-9)
}

func TestSummaryArtifactUsesBlobRepresentation(t *testing.T) {
	c := openCoordinator(t)
	seed(t, c)

	_, err := os.Stat(filepath.Join(c.cfg.Root, summaryName+".knb"))
	require.NoError(t, err, "rebuild must emit the compiled blob representation")
	_, err = os.Stat(filepath.Join(c.cfg.Root, summaryName+".bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestClosedCoordinator(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Query(ctx, "auth")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.GetDetail(ctx, "s-001")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Rebuild(ctx, false)
	assert.ErrorIs(t, err, ErrClosed)
	err = c.SaveRecord(ctx, testRecord("s-001", "p", "s"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Close(), ErrClosed)
}
