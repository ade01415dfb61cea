package tiered

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knowcache/codec"
	"github.com/hupe1980/knowcache/model"
)

// syntheticRecords builds a deterministic collection with populated detail
// tails.
func syntheticRecords(n int) []model.KnowledgeRecord {
	records := make([]model.KnowledgeRecord, 0, n)
	for i := 0; i < n; i++ {
		id := model.RecordID(fmt.Sprintf("s-%03d", i))
		records = append(records, model.KnowledgeRecord{
			ID:        id,
			Project:   fmt.Sprintf("project-%d", i%5),
			Date:      time.Date(2026, 1, 1+i%28, 9, 30, 0, 0, time.UTC),
			Summary:   fmt.Sprintf("session %d refactored the auth flow and tuned cache eviction", i),
			Tags:      []string{"auth", fmt.Sprintf("sprint-%d", i%7)},
			DetailRef: id,
			Decisions: []string{
				fmt.Sprintf("decision %d: keep the token refresh path synchronous for traceability", i),
				"decision: move retry budgets into configuration instead of constants",
			},
			Outcomes: []string{
				fmt.Sprintf("outcome %d: p99 login latency dropped after the connection pool fix", i),
			},
			Learnings: []string{
				"learning: the staging environment masks clock skew that production exposes",
				"learning: eviction churn is invisible without utilization counters",
			},
			ChangeStats: model.ChangeStats{FilesChanged: 3 + i, Insertions: 120 + i, Deletions: 40 + i},
		})
	}
	return records
}

func TestSplitMergeRoundTrip(t *testing.T) {
	records := syntheticRecords(100)

	si, blobs := Split(records)
	require.Equal(t, 100, si.Len())
	require.Len(t, blobs, 100)

	for i, r := range records {
		merged, err := model.Merge(si.Entries()[i], blobs[i])
		require.NoError(t, err)
		assert.Equal(t, r, merged, "record %s must round-trip field-for-field", r.ID)
	}
}

func TestMergeRejectsMismatchedHalves(t *testing.T) {
	records := syntheticRecords(2)
	si, blobs := Split(records)

	_, err := model.Merge(si.Entries()[0], blobs[1])
	assert.Error(t, err)
}

func TestBuildAndRevert(t *testing.T) {
	records := syntheticRecords(25)
	store := NewDetailStore(t.TempDir(), nil, nil, nil)

	ix, err := Build(records, store)
	require.NoError(t, err)

	reverted, err := ix.Revert()
	require.NoError(t, err)
	assert.Equal(t, records, reverted, "revert must rebuild the monolithic collection exactly")
}

func TestLoadDetail(t *testing.T) {
	records := syntheticRecords(3)
	store := NewDetailStore(t.TempDir(), nil, nil, nil)

	ix, err := Build(records, store)
	require.NoError(t, err)

	blob, err := ix.LoadDetail("s-001")
	require.NoError(t, err)
	assert.Equal(t, model.RecordID("s-001"), blob.ID)
	assert.NotEmpty(t, blob.Decisions)

	_, err = ix.LoadDetail("s-999")
	assert.ErrorIs(t, err, codec.ErrNotFound)
}

func TestDetailStoreRejectsPathEscapes(t *testing.T) {
	store := NewDetailStore(t.TempDir(), nil, nil, nil)

	for _, id := range []model.RecordID{"", ".", "..", "a/b", `a\b`} {
		err := store.Save(model.DetailBlob{ID: id})
		assert.Error(t, err, "id %q must be rejected", id)
	}
}

func TestSummaryTierIsSubstantiallySmaller(t *testing.T) {
	records := syntheticRecords(100)
	si, blobs := Split(records)
	frame := codec.NewBinary(nil)

	summaryBytes := 0
	for _, s := range si.Entries() {
		data, err := frame.Encode(s.ToWire())
		require.NoError(t, err)
		summaryBytes += len(data)
	}

	detailBytes := 0
	for _, d := range blobs {
		data, err := frame.Encode(d.ToWire())
		require.NoError(t, err)
		detailBytes += len(data)
	}

	assert.Less(t, summaryBytes, detailBytes/2,
		"summary tier (%d bytes) should be well under half the detail tier (%d bytes)", summaryBytes, detailBytes)
}

func TestSummaryIndexPersistence(t *testing.T) {
	records := syntheticRecords(10)
	si, _ := Split(records)

	dir := t.TempDir()
	path := dir + "/summary"
	require.NoError(t, SaveSummaryIndex(nil, path, si, codec.NewBinary(nil)))

	loaded, err := LoadSummaryIndex(codec.NewResolver(nil, nil), path)
	require.NoError(t, err)
	assert.Equal(t, si.Entries(), loaded.Entries())

	// Postings are rebuilt on load.
	assert.NotEmpty(t, loaded.Search([]string{"auth"}))
}

func TestSummaryIndexBlobPersistence(t *testing.T) {
	records := syntheticRecords(10)
	si, _ := Split(records)

	blob, err := codec.NewBlob(nil)
	require.NoError(t, err)

	path := t.TempDir() + "/summary"
	require.NoError(t, SaveSummaryIndex(nil, path, si, blob))

	_, err = os.Stat(path + ".knb")
	require.NoError(t, err, "blob frames persist under their own extension")

	loaded, err := LoadSummaryIndex(codec.NewResolver(nil, nil), path)
	require.NoError(t, err)
	assert.Equal(t, si.Entries(), loaded.Entries())
}

func TestSearchScoring(t *testing.T) {
	si := NewSummaryIndex([]model.Summary{
		{ID: "a", Summary: "cache cache cache", Tags: []string{"perf"}},
		{ID: "b", Summary: "cache eviction tuning", Tags: []string{"cache"}},
		{ID: "c", Summary: "unrelated browser work", Tags: []string{"ui"}},
	})

	matches := si.Search([]string{"cache"})
	require.Len(t, matches, 2)

	// "a" has three occurrences, "b" two (summary + tag): 15 vs 10.
	assert.Equal(t, model.RecordID("a"), matches[0].Summary.ID)
	assert.Equal(t, 15, matches[0].Score)
	assert.Equal(t, model.RecordID("b"), matches[1].Summary.ID)
	assert.Equal(t, 10, matches[1].Score)
}

func TestSearchMultiTokenAndTies(t *testing.T) {
	si := NewSummaryIndex([]model.Summary{
		{ID: "b", Summary: "auth retries", Tags: nil},
		{ID: "a", Summary: "auth retries", Tags: nil},
	})

	matches := si.Search([]string{"auth", "retries"})
	require.Len(t, matches, 2)
	assert.Equal(t, matches[0].Score, matches[1].Score)
	assert.Equal(t, model.RecordID("a"), matches[0].Summary.ID, "equal scores order by id")
}

func TestSearchNoTokens(t *testing.T) {
	si := NewSummaryIndex([]model.Summary{{ID: "a", Summary: "anything"}})
	assert.Empty(t, si.Search(nil))
	assert.Empty(t, si.Search([]string{"zzz"}))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"cache", "eviction", "p99", "latency"},
		Tokenize("Cache  eviction: cache, p99 latency!"))
	assert.Empty(t, Tokenize("a & b"))
	assert.Equal(t, []string{"sprint-3"}, Tokenize("Sprint-3"))
}

func TestTokensFeedTheFilter(t *testing.T) {
	records := syntheticRecords(5)
	si, _ := Split(records)

	tokens := si.Tokens()
	assert.Contains(t, tokens, "auth")
	assert.Contains(t, tokens, "project-0")
	assert.Contains(t, tokens, "eviction")
}
