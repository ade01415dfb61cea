// Package knowcache provides an embedded tiered knowledge cache for Go.
//
// Knowcache stores short project/session notes under a local knowledge
// root and answers "what do we know about X" queries while minimizing the
// amount of data read from disk. Lookups cascade through increasingly
// expensive stages: a bloom filter gives instant zero-I/O negatives, a
// persistent cache serves recent answers, a lightweight summary tier is
// scanned on misses, and full details load on demand per record.
//
// # Quick Start
//
//	ctx := context.Background()
//	kc, _ := knowcache.New(ctx, knowcache.Config{Root: "./knowledge"})
//	defer kc.Close()
//
//	kc.SaveRecord(ctx, model.KnowledgeRecord{
//	    ID:      "2026-08-31-auth",
//	    Project: "gateway",
//	    Summary: "refactored the auth flow and tuned cache eviction",
//	    Tags:    []string{"auth", "perf"},
//	})
//
//	res, _ := kc.Query(ctx, "auth")
//	for _, m := range res.Results {
//	    fmt.Println(m.Summary.ID, m.Score)
//	}
//
//	blob, _ := kc.GetDetail(ctx, "2026-08-31-auth")
//
// # Query Path
//
// Each query reports the stage that answered it:
//
//	res.Source == knowcache.SourceBloom  // definite negative, no I/O
//	res.Source == knowcache.SourceCache  // served from the persistent cache
//	res.Source == knowcache.SourceIndex  // computed by the summary scan
//
// # Rebuilds
//
// Derived artifacts (summary tier, detail store, filter) are rebuilt from
// the session files when the change manifest detects modifications:
//
//	stats, _ := kc.Rebuild(ctx, false) // incremental, skips when clean
//	stats, _ := kc.Rebuild(ctx, true)  // forced full rebuild
//
// # Key Features
//
//   - Bloom-filter negative gate with zero false negatives
//   - Durable cache with TTL expiry, version invalidation, LRU eviction
//   - Summary/detail tiering with lazy detail loads
//   - Multi-representation record files resolved in priority order
//   - Hash+mtime change manifest driving incremental rebuilds
package knowcache
