package tiered

import (
	"fmt"

	"github.com/hupe1980/knowcache/model"
)

// Index pairs the two tiers of one knowledge root.
type Index struct {
	Summaries *SummaryIndex
	Details   *DetailStore
}

// Split separates a record collection into the summary tier and the
// detail blobs. It performs no I/O; Build persists the result.
func Split(records []model.KnowledgeRecord) (*SummaryIndex, []model.DetailBlob) {
	summaries := make([]model.Summary, 0, len(records))
	blobs := make([]model.DetailBlob, 0, len(records))
	for _, r := range records {
		s, d := r.Split()
		summaries = append(summaries, s)
		blobs = append(blobs, d)
	}
	return NewSummaryIndex(summaries), blobs
}

// Build splits the collection and persists every detail blob into store,
// returning the assembled index.
func Build(records []model.KnowledgeRecord, store *DetailStore) (*Index, error) {
	si, blobs := Split(records)
	for _, blob := range blobs {
		if err := store.Save(blob); err != nil {
			return nil, err
		}
	}
	return &Index{Summaries: si, Details: store}, nil
}

// LoadDetail resolves the detail blob for one record id.
func (ix *Index) LoadDetail(id model.RecordID) (model.DetailBlob, error) {
	return ix.Details.Load(id)
}

// Merge reconstructs the monolithic record from its halves.
func (ix *Index) Merge(s model.Summary, d model.DetailBlob) (model.KnowledgeRecord, error) {
	return model.Merge(s, d)
}

// Revert merges every summary with its detail to rebuild the monolithic
// collection. Used for rollback and for verifying split equivalence.
func (ix *Index) Revert() ([]model.KnowledgeRecord, error) {
	records := make([]model.KnowledgeRecord, 0, ix.Summaries.Len())
	for _, s := range ix.Summaries.Entries() {
		ref := s.DetailRef
		if ref == "" {
			ref = s.ID
		}
		d, err := ix.Details.Load(ref)
		if err != nil {
			return nil, fmt.Errorf("tiered: revert %q: %w", s.ID, err)
		}
		r, err := model.Merge(s, d)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
