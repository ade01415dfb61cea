// Package tiered splits the record collection into an always-loaded
// summary tier and an on-demand detail tier. The summary tier is small
// enough to scan on every cache miss; details are resolved per id through
// the codec fallback chain only when a caller asks for them.
package tiered

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/knowcache/codec"
	"github.com/hupe1980/knowcache/internal/fs"
	"github.com/hupe1980/knowcache/model"
)

// Match is one scored summary hit.
type Match struct {
	Summary model.Summary
	Score   int
}

// SummaryIndex holds the lightweight projection of every record plus a
// token posting index for fast candidate selection.
type SummaryIndex struct {
	entries  []model.Summary
	postings map[string]*roaring.Bitmap // token -> entry ordinals
}

// NewSummaryIndex builds an index (and its postings) over entries.
func NewSummaryIndex(entries []model.Summary) *SummaryIndex {
	si := &SummaryIndex{postings: make(map[string]*roaring.Bitmap)}
	for _, e := range entries {
		si.Add(e)
	}
	return si
}

// Add appends one summary and indexes its tokens.
func (si *SummaryIndex) Add(s model.Summary) {
	ordinal := uint32(len(si.entries))
	si.entries = append(si.entries, s)

	for _, tok := range indexTokens(s) {
		bm, ok := si.postings[tok]
		if !ok {
			bm = roaring.New()
			si.postings[tok] = bm
		}
		bm.Add(ordinal)
	}
}

// Entries returns the summaries in insertion order.
func (si *SummaryIndex) Entries() []model.Summary { return si.entries }

// Len returns the number of indexed summaries.
func (si *SummaryIndex) Len() int { return len(si.entries) }

// Tokens returns every distinct indexed token; the coordinator feeds them
// into the bloom filter on rebuild.
func (si *SummaryIndex) Tokens() []string {
	tokens := make([]string, 0, len(si.postings))
	for tok := range si.postings {
		tokens = append(tokens, tok)
	}
	return tokens
}

// Search matches query tokens against summaries and tags and ranks hits
// by relevance: the sum over query tokens of occurrences times token
// length, descending. Ties break on record id for stable output.
func (si *SummaryIndex) Search(tokens []string) []Match {
	if len(tokens) == 0 {
		return nil
	}

	candidates := roaring.New()
	for _, tok := range tokens {
		if bm, ok := si.postings[normalizeToken(tok)]; ok {
			candidates.Or(bm)
		}
	}

	matches := make([]Match, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		ordinal := it.Next()
		s := si.entries[ordinal]
		if score := scoreSummary(s, tokens); score > 0 {
			matches = append(matches, Match{Summary: s, Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Summary.ID < matches[j].Summary.ID
	})

	return matches
}

// scoreSummary computes Σ over query tokens (occurrences × token length)
// across the summary text and tags.
func scoreSummary(s model.Summary, tokens []string) int {
	text := strings.ToLower(s.Summary)
	score := 0
	for _, tok := range tokens {
		tok = normalizeToken(tok)
		if tok == "" {
			continue
		}
		occ := strings.Count(text, tok)
		for _, tag := range s.Tags {
			occ += strings.Count(strings.ToLower(tag), tok)
		}
		score += occ * len(tok)
	}
	return score
}

// Tokenize splits free text into normalized query/index tokens:
// lowercased alphanumeric runs, single characters dropped, order
// preserved, duplicates removed.
func Tokenize(s string) []string {
	var (
		tokens []string
		seen   = make(map[string]struct{})
	)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isTokenRune(r)
	}) {
		if len(field) < 2 {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}

func isTokenRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}

func normalizeToken(tok string) string {
	return strings.ToLower(strings.TrimSpace(tok))
}

// indexTokens derives the posting tokens of one summary: summary text
// tokens, whole lowercased tags, tag sub-tokens, and the project name.
func indexTokens(s model.Summary) []string {
	seen := make(map[string]struct{})
	var tokens []string

	add := func(tok string) {
		tok = normalizeToken(tok)
		if len(tok) < 2 {
			return
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	for _, tok := range Tokenize(s.Summary) {
		add(tok)
	}
	for _, tag := range s.Tags {
		add(tag)
		for _, tok := range Tokenize(tag) {
			add(tok)
		}
	}
	add(s.Project)

	return tokens
}

// SaveSummaryIndex atomically persists the summary tier as a binary frame
// at the logical path, under the frame variant's own extension.
func SaveSummaryIndex(fsys fs.FileSystem, path string, si *SummaryIndex, frame *codec.Binary) error {
	wire := make([]model.WireSummary, len(si.entries))
	for i, e := range si.entries {
		wire[i] = e.ToWire()
	}

	data, err := frame.Encode(wire)
	if err != nil {
		return fmt.Errorf("tiered: encode summary index: %w", err)
	}
	if err := fs.WriteAtomic(fsys, path+frame.Extension(), data); err != nil {
		return fmt.Errorf("tiered: commit summary index: %w", err)
	}
	return nil
}

// LoadSummaryIndex reads the summary tier back through the resolver
// chain, rebuilding postings in memory.
func LoadSummaryIndex(r *codec.Resolver, path string) (*SummaryIndex, error) {
	var wire []model.WireSummary
	if err := r.Resolve(path, &wire); err != nil {
		return nil, err
	}

	entries := make([]model.Summary, len(wire))
	for i, w := range wire {
		entries[i] = model.SummaryFromWire(w)
	}
	return NewSummaryIndex(entries), nil
}
