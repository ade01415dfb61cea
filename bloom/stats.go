package bloom

// Stats tracks filter effectiveness on the query path. It is informational
// only and never affects correctness.
type Stats struct {
	Queries        uint64  // Total gated queries
	DefiniteNos    uint64  // Filter said "definitely not" (true negatives)
	MaybeYes       uint64  // Filter said "maybe yes"
	ConfirmedFPs   uint64  // Maybe-yes answers the cascade later found empty
	ObservedFPRate float64 // ConfirmedFPs / MaybeYes
}

// Update records one gated query: filterResult is what MayContain said,
// actualResult is whether the cascade actually found something.
func (s *Stats) Update(filterResult, actualResult bool) {
	s.Queries++
	if !filterResult {
		s.DefiniteNos++
	} else {
		s.MaybeYes++
		if !actualResult {
			s.ConfirmedFPs++
		}
	}
	if s.MaybeYes > 0 {
		s.ObservedFPRate = float64(s.ConfirmedFPs) / float64(s.MaybeYes)
	}
}

// Effectiveness returns the percentage of queries answered without any
// further I/O.
func (s *Stats) Effectiveness() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.DefiniteNos) / float64(s.Queries) * 100
}
