package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"collabedit/api/internal/presence"
)

type wireEvent struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialGateway(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event wireEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return event
}

func sendEvent(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestGatewayJoinEditRoundTrip(t *testing.T) {
	store := newFakeStore(nil)
	registry := testRegistry(t, presence.ModeUsername)
	gateway := NewGateway(NewHub(), store, registry, Policies{
		EditPersistence:     BroadcastFirst,
		CleanupOnDisconnect: true,
	})
	server := httptest.NewServer(gateway)
	defer server.Close()

	alice := dialGateway(t, server)
	sendEvent(t, alice, `{"event":"joinDocument","data":{"docId":"d1","username":"alice"}}`)

	// Join produces a system notice followed by a presence update.
	first := readEvent(t, alice)
	if first.Event != EventChatMessage {
		t.Fatalf("expected chatMessage first, got %s", first.Event)
	}
	var chat ChatBroadcast
	if err := json.Unmarshal(first.Data, &chat); err != nil {
		t.Fatalf("decode chat failed: %v", err)
	}
	if !chat.System || chat.Message != "alice joined the document" {
		t.Errorf("unexpected join notice: %+v", chat)
	}

	second := readEvent(t, alice)
	if second.Event != EventPresenceUpdate {
		t.Fatalf("expected presenceUpdate second, got %s", second.Event)
	}
	var users PresenceBroadcast
	if err := json.Unmarshal(second.Data, &users); err != nil {
		t.Fatalf("decode presence failed: %v", err)
	}
	if len(users.Users) != 1 || users.Users[0] != "alice" {
		t.Errorf("expected presence [alice], got %v", users.Users)
	}

	bob := dialGateway(t, server)
	sendEvent(t, bob, `{"event":"joinDocument","data":{"docId":"d1","username":"bob"}}`)
	// Drain bob's join notice and presence update on both connections.
	readEvent(t, bob)
	readEvent(t, bob)
	readEvent(t, alice)
	readEvent(t, alice)

	sendEvent(t, alice, `{"event":"editDocument","data":{"docId":"d1","content":"hello"}}`)
	update := readEvent(t, bob)
	if update.Event != EventDocumentUpdate {
		t.Fatalf("expected documentUpdate, got %s", update.Event)
	}
	var doc DocumentBroadcast
	if err := json.Unmarshal(update.Data, &doc); err != nil {
		t.Fatalf("decode update failed: %v", err)
	}
	if doc.Content != "hello" {
		t.Errorf("expected content hello, got %q", doc.Content)
	}

	waitFor(t, func() bool { return store.content("d1") == "hello" })
}

func TestGatewayRejectsMalformedFrames(t *testing.T) {
	gateway := NewGateway(NewHub(), newFakeStore(nil), testRegistry(t, presence.ModeUsername), Policies{
		EditPersistence:     BroadcastFirst,
		CleanupOnDisconnect: true,
	})
	server := httptest.NewServer(gateway)
	defer server.Close()

	conn := dialGateway(t, server)
	sendEvent(t, conn, `{"event":"joinDocument","data":{"docId":"d1"}}`)

	event := readEvent(t, conn)
	if event.Event != EventError {
		t.Fatalf("expected error event, got %s", event.Event)
	}
	var fail ErrorBroadcast
	if err := json.Unmarshal(event.Data, &fail); err != nil {
		t.Fatalf("decode error failed: %v", err)
	}
	if fail.Code != CodeInvalidPayload {
		t.Errorf("expected INVALID_PAYLOAD, got %s", fail.Code)
	}
}

func TestGatewayDisconnectReleasesPresence(t *testing.T) {
	registry := testRegistry(t, presence.ModeUsername)
	gateway := NewGateway(NewHub(), newFakeStore(nil), registry, Policies{
		EditPersistence:     BroadcastFirst,
		CleanupOnDisconnect: true,
	})
	server := httptest.NewServer(gateway)
	defer server.Close()

	conn := dialGateway(t, server)
	sendEvent(t, conn, `{"event":"joinDocument","data":{"docId":"d1","username":"alice"}}`)
	readEvent(t, conn)
	readEvent(t, conn)

	conn.Close()

	waitFor(t, func() bool {
		users, err := registry.List(t.Context(), "d1")
		return err == nil && len(users) == 0
	})
}

// waitFor polls for a condition that is updated by the server goroutines.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
