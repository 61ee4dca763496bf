package domain

import "time"

type StorageMode string

const (
	StorageLocal  StorageMode = "local"
	StorageRemote StorageMode = "remote"
)

func (m StorageMode) Valid() bool {
	return m == StorageLocal || m == StorageRemote
}

type SetStorageModeRequest struct {
	Mode StorageMode `json:"mode" validate:"required,oneof=local remote"`
}

type StorageModeResult struct {
	Success      bool        `json:"success"`
	ShouldReload bool        `json:"should_reload"`
	Deferred     bool        `json:"deferred,omitempty"`
	Sync         *SyncResult `json:"sync,omitempty"`
}

type Status struct {
	StorageMode       StorageMode `json:"storage_mode"`
	SyncEnabled       bool        `json:"sync_enabled"`
	Authenticated     bool        `json:"authenticated"`
	EncryptionEnabled bool        `json:"encryption_enabled"`
	Unlocked          bool        `json:"unlocked"`
	LastSyncTime      *time.Time  `json:"last_sync_time,omitempty"`
	PendingConflictID string      `json:"pending_conflict_id,omitempty"`
}

// TargetResult is the outcome of one physical write.
type TargetResult struct {
	Attempted bool   `json:"attempted"`
	Skipped   string `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
	err       error
}

func NewTargetResult(err error, message string) TargetResult {
	return TargetResult{Attempted: true, Error: message, err: err}
}

// SkippedTarget records a write that was deliberately not attempted.
func SkippedTarget(reason string, err error) TargetResult {
	return TargetResult{Skipped: reason, err: err}
}

func (r TargetResult) OK() bool  { return r.Attempted && r.err == nil }
func (r TargetResult) Err() error { return r.err }

// WriteOutcome reports local and remote writes independently.
type WriteOutcome struct {
	Local  TargetResult `json:"local"`
	Remote TargetResult `json:"remote"`
}
