// Package diff compares two version manifests and reports which files were
// added, modified, or deleted, together with the signed size change.
package diff

import (
	"sort"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/manifest"
)

// DefaultMaxDetailEntries bounds each change-detail bucket.
const DefaultMaxDetailEntries = 50

// Result summarizes the difference between a version and its parent.
type Result struct {
	FilesAdded    int
	FilesModified int
	FilesDeleted  int
	SizeChange    int64
	Details       dawsync.ChangeDetails
}

// Compute diffs current against previous, keyed by entry path. A nil previous
// marks the initial version: everything counts as added. maxDetails bounds
// the per-bucket detail lists; values < 1 fall back to the default.
func Compute(current []manifest.Entry, previous []manifest.Entry, maxDetails int) Result {
	if maxDetails < 1 {
		maxDetails = DefaultMaxDetailEntries
	}

	prev := make(map[string]manifest.Entry, len(previous))
	for _, e := range previous {
		prev[e.Path] = e
	}

	var res Result
	var added, modified, deleted []dawsync.ChangeEntry

	for _, e := range current {
		old, ok := prev[e.Path]
		if !ok {
			res.FilesAdded++
			res.SizeChange += e.Size
			added = append(added, dawsync.ChangeEntry{Path: e.Path, Size: e.Size, Hash: e.Hash})
			continue
		}
		if old.Hash != e.Hash {
			res.FilesModified++
			res.SizeChange += e.Size - old.Size
			modified = append(modified, dawsync.ChangeEntry{Path: e.Path, Size: e.Size, Hash: e.Hash})
		}
		delete(prev, e.Path)
	}

	for _, old := range prev {
		res.FilesDeleted++
		res.SizeChange -= old.Size
		deleted = append(deleted, dawsync.ChangeEntry{Path: old.Path, Size: old.Size, Hash: old.Hash})
	}

	res.Details.Added, res.Details.AddedTruncated = clip(added, maxDetails)
	res.Details.Modified, res.Details.ModifiedTruncated = clip(modified, maxDetails)
	res.Details.Deleted, res.Details.DeletedTruncated = clip(deleted, maxDetails)

	debug.Log("diff: +%d ~%d -%d, size change %d",
		res.FilesAdded, res.FilesModified, res.FilesDeleted, res.SizeChange)
	return res
}

func clip(entries []dawsync.ChangeEntry, max int) ([]dawsync.ChangeEntry, bool) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	if len(entries) > max {
		return entries[:max], true
	}
	return entries, false
}
