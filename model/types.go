package model

import (
	"fmt"
	"time"
)

// RecordID is the user-facing stable identifier of a knowledge record.
type RecordID string

// String returns the raw identifier.
func (id RecordID) String() string { return string(id) }

// KnowledgeRecord is the full, monolithic form of one saved session.
// Records are immutable once written; a full-collection rebuild is the
// only way to replace them.
type KnowledgeRecord struct {
	ID      RecordID
	Project string
	Date    time.Time
	Summary string
	Tags    []string

	// DetailRef points into the detail store. It normally equals ID and is
	// kept separate so summaries stay self-contained after a split.
	DetailRef RecordID

	// Detail fields, stripped off into a DetailBlob by the tiered index.
	Decisions   []string
	Outcomes    []string
	Learnings   []string
	ChangeStats ChangeStats
}

// Summary is the lightweight always-loaded projection of a record.
type Summary struct {
	ID        RecordID
	Project   string
	Date      time.Time
	Summary   string
	Tags      []string
	DetailRef RecordID
}

// DetailBlob holds the heavy tail of a record, loaded only on demand.
type DetailBlob struct {
	ID          RecordID
	Decisions   []string
	Outcomes    []string
	Learnings   []string
	ChangeStats ChangeStats
}

// ChangeStats summarizes the code churn of a session.
type ChangeStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// Split separates a record into its summary and detail halves.
func (r KnowledgeRecord) Split() (Summary, DetailBlob) {
	ref := r.DetailRef
	if ref == "" {
		ref = r.ID
	}
	s := Summary{
		ID:        r.ID,
		Project:   r.Project,
		Date:      r.Date,
		Summary:   r.Summary,
		Tags:      r.Tags,
		DetailRef: ref,
	}
	d := DetailBlob{
		ID:          r.ID,
		Decisions:   r.Decisions,
		Outcomes:    r.Outcomes,
		Learnings:   r.Learnings,
		ChangeStats: r.ChangeStats,
	}
	return s, d
}

// Merge reconstructs the monolithic record from its two halves.
// Merge(r.Split()) is field-for-field identical to r.
func Merge(s Summary, d DetailBlob) (KnowledgeRecord, error) {
	if s.ID != d.ID {
		return KnowledgeRecord{}, fmt.Errorf("model: summary %q and detail %q do not belong together", s.ID, d.ID)
	}
	return KnowledgeRecord{
		ID:          s.ID,
		Project:     s.Project,
		Date:        s.Date,
		Summary:     s.Summary,
		Tags:        s.Tags,
		DetailRef:   s.DetailRef,
		Decisions:   d.Decisions,
		Outcomes:    d.Outcomes,
		Learnings:   d.Learnings,
		ChangeStats: d.ChangeStats,
	}, nil
}
