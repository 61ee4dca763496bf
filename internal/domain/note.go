package domain

import (
	"regexp"
	"time"
)

var defaultTitlePattern = regexp.MustCompile(`^Note \d+$`)

// Note is the plaintext form handed to and returned from the UI layer.
type Note struct {
	ID      int64  `json:"id" validate:"gte=1"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// HasDefaultTitle reports whether the title is the generated "Note <n>" form.
func (n *Note) HasDefaultTitle() bool {
	return defaultTitlePattern.MatchString(n.Title)
}

// StoredNote is the persisted form. When Encrypted is set, Title and Content
// are envelopes; otherwise both are plaintext.
type StoredNote struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted,omitempty"`
	Version   int       `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteView is a note as rendered for the caller, possibly with placeholders.
type NoteView struct {
	Note
	Locked      bool              `json:"locked,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Clean reports whether the view carries real plaintext in every field.
func (v *NoteView) Clean() bool {
	return !v.Locked && len(v.FieldErrors) == 0
}

type SaveNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}
