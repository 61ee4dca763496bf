package service

import (
	"sort"

	"inkdown-notes/internal/domain"
)

// snapshotNote is a note in comparable form. Fields that could not be
// decrypted keep their stored envelope and mark the note Opaque.
type snapshotNote struct {
	domain.Note
	Opaque bool
}

func (n snapshotNote) meaningful() bool {
	return n.Opaque || n.Content != "" || !n.HasDefaultTitle()
}

// isMeaningful reports whether any note carries user data. Freshly
// initialised collections only hold "Note <n>" notes with empty content.
func isMeaningful(notes []snapshotNote) bool {
	for _, n := range notes {
		if n.meaningful() {
			return true
		}
	}
	return false
}

// collectionsEqual compares by id after sorting. Order alone never makes
// two collections differ.
func collectionsEqual(a, b []snapshotNote) bool {
	if len(a) != len(b) {
		return false
	}

	as, bs := sortedByID(a), sortedByID(b)
	for i := range as {
		if as[i].ID != bs[i].ID || as[i].Title != bs[i].Title || as[i].Content != bs[i].Content {
			return false
		}
	}
	return true
}

func sortedByID(notes []snapshotNote) []snapshotNote {
	out := make([]snapshotNote, len(notes))
	copy(out, notes)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// decide applies the Smart Sync decision table.
func decide(local, remote []snapshotNote) (domain.SyncAction, string) {
	lm, rm := isMeaningful(local), isMeaningful(remote)

	switch {
	case !lm && !rm:
		return domain.SyncNone, "nothing to sync"
	case !lm:
		return domain.SyncDownload, "adopting remote notes"
	case !rm:
		return domain.SyncUpload, "uploading local notes"
	case collectionsEqual(local, remote):
		return domain.SyncNone, "local and remote notes already match"
	default:
		return domain.SyncConflict, "local and remote notes differ"
	}
}
