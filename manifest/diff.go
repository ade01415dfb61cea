package manifest

// Changes is the result of diffing two snapshots.
//
// When the old snapshot is absent entirely, IsFirstRun is true and every
// slice is empty: "no baseline yet" is not the same thing as "all files
// added", and callers must branch on the flag instead of inferring state
// from an empty diff.
type Changes struct {
	Changed    []string
	Added      []string
	Deleted    []string
	IsFirstRun bool
}

// Empty reports whether the diff carries no work.
func (c Changes) Empty() bool {
	return !c.IsFirstRun && len(c.Changed) == 0 && len(c.Added) == 0 && len(c.Deleted) == 0
}

// DetectChanges diffs two snapshots. A path present in both with a
// differing hash or mtime is changed; present only in new is added;
// present only in old is deleted.
func DetectChanges(old, new *Manifest) Changes {
	if old == nil {
		return Changes{IsFirstRun: true}
	}

	var c Changes
	for path, newInfo := range new.Files {
		oldInfo, ok := old.Files[path]
		switch {
		case !ok:
			c.Added = append(c.Added, path)
		case oldInfo.Hash != newInfo.Hash || !oldInfo.MTime.Equal(newInfo.MTime):
			c.Changed = append(c.Changed, path)
		}
	}
	for path := range old.Files {
		if _, ok := new.Files[path]; !ok {
			c.Deleted = append(c.Deleted, path)
		}
	}
	return c
}

// NeedsRebuild reports whether any tracked artifact's current hash differs
// from the manifest entry (or is missing from it). tracked maps relative
// path to its current content hash.
func NeedsRebuild(m *Manifest, tracked map[string]string) bool {
	if m == nil {
		return len(tracked) > 0
	}
	for path, hash := range tracked {
		info, ok := m.Files[path]
		if !ok || info.Hash != hash {
			return true
		}
	}
	return false
}
