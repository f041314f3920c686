// Package realtime implements the session coordinator: per-connection
// event handling, room-scoped fan-out, and synchronization of presence and
// durable storage.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type EventType string

const (
	// Inbound, client-originated.
	EventJoinDocument  EventType = "joinDocument"
	EventEditDocument  EventType = "editDocument"
	EventChatMessage   EventType = "chatMessage"
	EventLeaveDocument EventType = "leaveDocument"

	// Outbound. EventChatMessage appears in both directions.
	EventPresenceUpdate EventType = "presenceUpdate"
	EventDocumentUpdate EventType = "documentUpdate"
	EventError          EventType = "error"
)

// Error codes surfaced to the originating connection.
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeNotInRoom      = "NOT_IN_ROOM"
	CodePersistFailed  = "PERSIST_FAILED"
	CodePresenceFailed = "PRESENCE_FAILED"
)

var validate = validator.New()

type JoinPayload struct {
	DocID    string `json:"docId" validate:"required"`
	Username string `json:"username" validate:"required"`
}

// EditPayload carries opaque content: no size or format checks beyond
// field presence. Content is a pointer so that clearing a document
// (present-but-empty) is distinguishable from a missing field.
type EditPayload struct {
	DocID   string  `json:"docId" validate:"required"`
	Content *string `json:"content" validate:"required"`
}

type ChatPayload struct {
	DocID    string `json:"docId" validate:"required"`
	Username string `json:"username" validate:"required"`
	Message  string `json:"message" validate:"required"`
}

type LeavePayload struct {
	DocID    string `json:"docId" validate:"required"`
	Username string `json:"username" validate:"required"`
}

// OutboundEvent is the wire envelope for everything the server sends.
type OutboundEvent struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

type ChatBroadcast struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	System    bool      `json:"system,omitempty"`
}

type PresenceBroadcast struct {
	DocID string   `json:"docId"`
	Users []string `json:"users"`
}

type DocumentBroadcast struct {
	DocID   string `json:"docId"`
	Content string `json:"content"`
}

type ErrorBroadcast struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodeInbound parses and validates one client message. The payload is
// only trusted after validation; callers must not mutate any state on error.
func decodeInbound(data []byte) (EventType, any, error) {
	var envelope struct {
		Event EventType       `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch envelope.Event {
	case EventJoinDocument:
		var payload JoinPayload
		return envelope.Event, &payload, unmarshalPayload(envelope.Data, &payload)
	case EventEditDocument:
		var payload EditPayload
		return envelope.Event, &payload, unmarshalPayload(envelope.Data, &payload)
	case EventChatMessage:
		var payload ChatPayload
		return envelope.Event, &payload, unmarshalPayload(envelope.Data, &payload)
	case EventLeaveDocument:
		var payload LeavePayload
		return envelope.Event, &payload, unmarshalPayload(envelope.Data, &payload)
	default:
		return envelope.Event, nil, fmt.Errorf("unknown event %q", envelope.Event)
	}
}

func unmarshalPayload(data []byte, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
