package model

import "time"

// Wire types map records to compact key names at the encode/decode
// boundary. In-memory code only ever sees the strongly-typed forms above;
// the legend lives here and nowhere else.

// WireRecord is the on-disk shape of a KnowledgeRecord.
type WireRecord struct {
	ID        string          `json:"id"`
	Project   string          `json:"pr"`
	Date      time.Time       `json:"dt"`
	Summary   string          `json:"sm"`
	Tags      []string        `json:"tg,omitempty"`
	DetailRef string          `json:"dr,omitempty"`
	Decisions []string        `json:"dc,omitempty"`
	Outcomes  []string        `json:"oc,omitempty"`
	Learnings []string        `json:"ln,omitempty"`
	Changes   WireChangeStats `json:"ch"`
}

// WireSummary is the on-disk shape of a Summary.
type WireSummary struct {
	ID        string    `json:"id"`
	Project   string    `json:"pr"`
	Date      time.Time `json:"dt"`
	Summary   string    `json:"sm"`
	Tags      []string  `json:"tg,omitempty"`
	DetailRef string    `json:"dr,omitempty"`
}

// WireDetail is the on-disk shape of a DetailBlob.
type WireDetail struct {
	ID        string          `json:"id"`
	Decisions []string        `json:"dc,omitempty"`
	Outcomes  []string        `json:"oc,omitempty"`
	Learnings []string        `json:"ln,omitempty"`
	Changes   WireChangeStats `json:"ch"`
}

// WireChangeStats is the on-disk shape of ChangeStats.
type WireChangeStats struct {
	FilesChanged int `json:"f"`
	Insertions   int `json:"i"`
	Deletions    int `json:"d"`
}

// ToWire converts a record for encoding.
func (r KnowledgeRecord) ToWire() WireRecord {
	return WireRecord{
		ID:        string(r.ID),
		Project:   r.Project,
		Date:      r.Date,
		Summary:   r.Summary,
		Tags:      r.Tags,
		DetailRef: string(r.DetailRef),
		Decisions: r.Decisions,
		Outcomes:  r.Outcomes,
		Learnings: r.Learnings,
		Changes:   WireChangeStats(r.ChangeStats),
	}
}

// FromWire converts a decoded wire record back to the typed form.
func FromWire(w WireRecord) KnowledgeRecord {
	return KnowledgeRecord{
		ID:        RecordID(w.ID),
		Project:   w.Project,
		Date:      w.Date,
		Summary:   w.Summary,
		Tags:      w.Tags,
		DetailRef: RecordID(w.DetailRef),
		Decisions: w.Decisions,
		Outcomes:  w.Outcomes,
		Learnings: w.Learnings,
		ChangeStats: ChangeStats{
			FilesChanged: w.Changes.FilesChanged,
			Insertions:   w.Changes.Insertions,
			Deletions:    w.Changes.Deletions,
		},
	}
}

// ToWire converts a summary for encoding.
func (s Summary) ToWire() WireSummary {
	return WireSummary{
		ID:        string(s.ID),
		Project:   s.Project,
		Date:      s.Date,
		Summary:   s.Summary,
		Tags:      s.Tags,
		DetailRef: string(s.DetailRef),
	}
}

// SummaryFromWire converts a decoded wire summary back to the typed form.
func SummaryFromWire(w WireSummary) Summary {
	return Summary{
		ID:        RecordID(w.ID),
		Project:   w.Project,
		Date:      w.Date,
		Summary:   w.Summary,
		Tags:      w.Tags,
		DetailRef: RecordID(w.DetailRef),
	}
}

// ToWire converts a detail blob for encoding.
func (d DetailBlob) ToWire() WireDetail {
	return WireDetail{
		ID:        string(d.ID),
		Decisions: d.Decisions,
		Outcomes:  d.Outcomes,
		Learnings: d.Learnings,
		Changes:   WireChangeStats(d.ChangeStats),
	}
}

// DetailFromWire converts a decoded wire detail back to the typed form.
func DetailFromWire(w WireDetail) DetailBlob {
	return DetailBlob{
		ID:        RecordID(w.ID),
		Decisions: w.Decisions,
		Outcomes:  w.Outcomes,
		Learnings: w.Learnings,
		ChangeStats: ChangeStats{
			FilesChanged: w.Changes.FilesChanged,
			Insertions:   w.Changes.Insertions,
			Deletions:    w.Changes.Deletions,
		},
	}
}
