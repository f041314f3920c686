package realtime

import (
	"context"
	"log"
	"time"
)

const systemUsername = "System"

// Store is the persistence sink surface the coordinator drives. Both
// operations either succeed or fail; failures are surfaced to the
// originating connection, never retried.
type Store interface {
	UpdateContent(ctx context.Context, docID, content string) error
	AppendChatMessage(ctx context.Context, docID, username, message string, at time.Time) error
}

// Presence is the registry surface the coordinator drives.
type Presence interface {
	Join(ctx context.Context, docID, username, connID string) error
	Leave(ctx context.Context, docID, username, connID string) error
	List(ctx context.Context, docID string) ([]string, error)
}

// EditPersistence selects the ordering of the edit path's two side
// effects. BroadcastFirst matches the historical behavior: other clients
// can observe an edit before it is durably stored, and a crash between the
// two loses the write. PersistFirst gates the broadcast on the write.
type EditPersistence string

const (
	BroadcastFirst EditPersistence = "broadcast_first"
	PersistFirst   EditPersistence = "persist_first"
)

// ParseEditPersistence falls back to BroadcastFirst on unknown values.
func ParseEditPersistence(value string) EditPersistence {
	if EditPersistence(value) == PersistFirst {
		return PersistFirst
	}
	return BroadcastFirst
}

type Policies struct {
	EditPersistence EditPersistence
	// CleanupOnDisconnect makes a dropped connection run the same presence
	// cleanup and broadcasts as an explicit leave. Off reproduces the
	// historical behavior of leaving stale presence entries behind.
	CleanupOnDisconnect bool
}

// Session is the per-connection state machine. A connection is associated
// with at most one room at a time. All handlers run on the connection's
// single reader goroutine, which preserves per-connection event ordering
// without locking; sessions only share state through the hub, the registry
// and the store.
type Session struct {
	id       string
	hub      *Hub
	store    Store
	presence Presence
	policies Policies
	sink     Subscriber

	room     *Room
	username string
	// departed is set once presence has been released (explicit leave), so
	// a later disconnect does not broadcast a second departure.
	departed bool
}

func NewSession(id string, hub *Hub, store Store, presence Presence, policies Policies, sink Subscriber) *Session {
	return &Session{
		id:       id,
		hub:      hub,
		store:    store,
		presence: presence,
		policies: policies,
		sink:     sink,
	}
}

func (s *Session) ID() string {
	return s.id
}

// HandleRaw decodes, validates and dispatches one inbound message.
// Malformed input is rejected before any state mutation or broadcast.
func (s *Session) HandleRaw(ctx context.Context, data []byte) {
	event, payload, err := decodeInbound(data)
	if err != nil {
		s.sendError(CodeInvalidPayload, err.Error())
		return
	}
	switch event {
	case EventJoinDocument:
		s.HandleJoin(ctx, payload.(*JoinPayload))
	case EventEditDocument:
		s.HandleEdit(ctx, payload.(*EditPayload))
	case EventChatMessage:
		s.HandleChat(ctx, payload.(*ChatPayload))
	case EventLeaveDocument:
		s.HandleLeave(ctx, payload.(*LeavePayload))
	}
}

// HandleJoin moves the connection into the document's room. Joining while
// already in a room re-targets the subscription, releasing the previous
// room the same way a disconnect would.
func (s *Session) HandleJoin(ctx context.Context, payload *JoinPayload) {
	if s.room != nil {
		s.detach(ctx)
	}

	s.room = s.hub.Subscribe(payload.DocID, s.sink)
	s.username = payload.Username
	s.departed = false

	// A registry failure degrades the connection rather than evicting it:
	// edit and chat still work, the presence list may be stale.
	if err := s.presence.Join(ctx, payload.DocID, payload.Username, s.id); err != nil {
		log.Printf("presence join failed for %s on %s: %v", payload.Username, payload.DocID, err)
		s.sendError(CodePresenceFailed, "presence tracking unavailable")
	}

	s.room.Broadcast(systemChat(payload.Username + " joined the document"))
	s.broadcastPresence(ctx)
}

// HandleEdit fans the new content out to the rest of the room and records
// it, in the configured order. The sender never receives its own update.
func (s *Session) HandleEdit(ctx context.Context, payload *EditPayload) {
	if !s.inRoom(payload.DocID) {
		s.sendError(CodeNotInRoom, "join the document before editing")
		return
	}
	content := *payload.Content
	update := OutboundEvent{
		Event: EventDocumentUpdate,
		Data:  DocumentBroadcast{DocID: payload.DocID, Content: content},
	}

	if s.policies.EditPersistence == PersistFirst {
		if err := s.store.UpdateContent(ctx, payload.DocID, content); err != nil {
			log.Printf("edit persist failed for %s: %v", payload.DocID, err)
			s.sendError(CodePersistFailed, "edit was not saved")
			return
		}
		s.room.BroadcastExcept(update, s.sink)
		return
	}

	// broadcast_first: the room observes the edit regardless of whether
	// the write lands. The failure still goes back to the sender.
	s.room.BroadcastExcept(update, s.sink)
	if err := s.store.UpdateContent(ctx, payload.DocID, content); err != nil {
		log.Printf("edit persist failed for %s: %v", payload.DocID, err)
		s.sendError(CodePersistFailed, "edit was broadcast but not saved")
	}
}

// HandleChat records the message and then broadcasts it to the whole room,
// sender included. A message is never broadcast without first being
// recorded; the timestamp reflects receipt at the coordinator.
func (s *Session) HandleChat(ctx context.Context, payload *ChatPayload) {
	if !s.inRoom(payload.DocID) {
		s.sendError(CodeNotInRoom, "join the document before chatting")
		return
	}
	timestamp := time.Now().UTC()
	if err := s.store.AppendChatMessage(ctx, payload.DocID, payload.Username, payload.Message, timestamp); err != nil {
		log.Printf("chat persist failed for %s: %v", payload.DocID, err)
		s.sendError(CodePersistFailed, "message was not delivered")
		return
	}
	s.room.Broadcast(OutboundEvent{
		Event: EventChatMessage,
		Data: ChatBroadcast{
			Username:  payload.Username,
			Message:   payload.Message,
			Timestamp: timestamp,
		},
	})
}

// HandleLeave releases presence and announces the departure. The
// connection stays subscribed to the room until it disconnects or joins
// another document; a participant can keep watching after leaving.
func (s *Session) HandleLeave(ctx context.Context, payload *LeavePayload) {
	if !s.inRoom(payload.DocID) {
		s.sendError(CodeNotInRoom, "not joined to that document")
		return
	}
	if err := s.presence.Leave(ctx, payload.DocID, payload.Username, s.id); err != nil {
		log.Printf("presence leave failed for %s on %s: %v", payload.Username, payload.DocID, err)
		s.sendError(CodePresenceFailed, "presence tracking unavailable")
	}
	s.departed = true

	s.room.Broadcast(systemChat(payload.Username + " left the document"))
	s.broadcastPresence(ctx)
}

// Close tears the session down on disconnect. With CleanupOnDisconnect it
// mirrors an explicit leave for the joined username, unless that username
// already departed.
func (s *Session) Close(ctx context.Context) {
	if s.room == nil {
		return
	}
	s.detach(ctx)
}

func (s *Session) detach(ctx context.Context) {
	room := s.room
	docID := room.ID()

	if s.policies.CleanupOnDisconnect && !s.departed && s.username != "" {
		if err := s.presence.Leave(ctx, docID, s.username, s.id); err != nil {
			log.Printf("presence cleanup failed for %s on %s: %v", s.username, docID, err)
		}
		room.Broadcast(systemChat(s.username + " left the document"))
		s.broadcastPresence(ctx)
	}

	s.hub.Unsubscribe(docID, s.sink)
	s.room = nil
	s.username = ""
	s.departed = false
}

func (s *Session) inRoom(docID string) bool {
	return s.room != nil && s.room.ID() == docID
}

func (s *Session) broadcastPresence(ctx context.Context) {
	docID := s.room.ID()
	users, err := s.presence.List(ctx, docID)
	if err != nil {
		log.Printf("presence list failed for %s: %v", docID, err)
		s.sendError(CodePresenceFailed, "presence tracking unavailable")
		return
	}
	s.room.Broadcast(OutboundEvent{
		Event: EventPresenceUpdate,
		Data:  PresenceBroadcast{DocID: docID, Users: users},
	})
}

func (s *Session) sendError(code, message string) {
	s.sink.Deliver(OutboundEvent{
		Event: EventError,
		Data:  ErrorBroadcast{Code: code, Message: message},
	})
}

func systemChat(message string) OutboundEvent {
	return OutboundEvent{
		Event: EventChatMessage,
		Data: ChatBroadcast{
			Username:  systemUsername,
			Message:   message,
			Timestamp: time.Now().UTC(),
			System:    true,
		},
	}
}
