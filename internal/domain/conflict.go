package domain

import "time"

type SyncAction string

const (
	SyncNone     SyncAction = "none"
	SyncDownload SyncAction = "download"
	SyncUpload   SyncAction = "upload"
	SyncConflict SyncAction = "conflict"
)

type ResolutionChoice string

const (
	ResolutionKeepLocal  ResolutionChoice = "keep_local"
	ResolutionKeepRemote ResolutionChoice = "keep_remote"
	ResolutionCancel     ResolutionChoice = "cancel"
)

// Conflict is a pending Smart Sync decision between two meaningful,
// divergent replicas.
type Conflict struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	LocalNotes  int       `json:"local_notes"`
	RemoteNotes int       `json:"remote_notes"`
	DetectedAt  time.Time `json:"detected_at"`
}

type SyncResult struct {
	Action   SyncAction `json:"action"`
	Reason   string     `json:"reason,omitempty"`
	Conflict *Conflict  `json:"conflict,omitempty"`
}

type ConflictResolutionRequest struct {
	Choice ResolutionChoice `json:"choice" validate:"required,oneof=keep_local keep_remote cancel"`
}
