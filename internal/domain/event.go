package domain

import "time"

type EventType string

const (
	EventConflictDetected EventType = "conflict_detected"
	EventConflictResolved EventType = "conflict_resolved"
	EventRemoteRefreshed  EventType = "remote_refreshed"
	EventStatusChanged    EventType = "status_changed"
)

// Event is pushed to the UI layer without a caller request.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}
