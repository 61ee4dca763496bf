package domain

import "time"

// CollectionMetadata is the per-user index record. NoteOrder is always a
// permutation of the stored note ids.
type CollectionMetadata struct {
	ActiveNoteID *int64  `json:"active_note_id"`
	NoteOrder    []int64 `json:"note_order"`
}

// Collection is a full replica snapshot in persisted form.
type Collection struct {
	Metadata CollectionMetadata `json:"metadata"`
	Notes    []*StoredNote      `json:"notes"`
}

// CollectionView is the reconciled, plaintext view returned by Load.
type CollectionView struct {
	Metadata CollectionMetadata `json:"metadata"`
	Notes    []*NoteView        `json:"notes"`
	Source   StorageMode        `json:"source"`
	Warnings []string           `json:"warnings,omitempty"`
	LoadedAt time.Time          `json:"loaded_at"`
}

type UpdateMetadataRequest struct {
	ActiveNoteID *int64  `json:"active_note_id"`
	NoteOrder    []int64 `json:"note_order" validate:"required"`
}
