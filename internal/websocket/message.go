package websocket

import (
	"encoding/json"
	"time"

	"inkdown-notes/internal/domain"
)

type MessageType string

const (
	// Pushed by the engine.
	TypeConflictDetected MessageType = "conflict_detected"
	TypeConflictResolved MessageType = "conflict_resolved"
	TypeRemoteRefreshed  MessageType = "remote_refreshed"
	TypeStatusChanged    MessageType = "status_changed"

	// Sent by the UI.
	TypeVisibility      MessageType = "visibility"
	TypeFocus           MessageType = "focus"
	TypeBlur            MessageType = "blur"
	TypeResolveConflict MessageType = "resolve_conflict"

	TypeAck   MessageType = "ack"
	TypeError MessageType = "error"
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
)

type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

type ResolveConflictPayload struct {
	ConflictID string                  `json:"conflict_id"`
	Choice     domain.ResolutionChoice `json:"choice"`
}

type AckPayload struct {
	MessageID string      `json:"message_id"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

// FromEvent converts an engine event into its wire form.
func FromEvent(event domain.Event) (*Message, error) {
	msg, err := NewMessage(MessageType(event.Type), event.Payload)
	if err != nil {
		return nil, err
	}
	if !event.Timestamp.IsZero() {
		msg.Timestamp = event.Timestamp
	}
	return msg, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
