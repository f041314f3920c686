package realtime

import "sync"

// Subscriber receives fan-out events for a room. Deliver must not block;
// it reports false when the event was dropped (best-effort delivery).
type Subscriber interface {
	Deliver(event OutboundEvent) bool
}

// Room is the fan-out scope for one document: the set of live connections
// currently associated with it.
type Room struct {
	id   string
	mu   sync.RWMutex
	subs map[Subscriber]struct{}
}

func newRoom(id string) *Room {
	return &Room{id: id, subs: make(map[Subscriber]struct{})}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) subscribe(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub] = struct{}{}
}

func (r *Room) unsubscribe(sub Subscriber) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub)
	return len(r.subs) == 0
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Broadcast delivers an event to every connection in the room, including
// the sender.
func (r *Room) Broadcast(event OutboundEvent) {
	r.BroadcastExcept(event, nil)
}

// BroadcastExcept delivers to every connection but the given one. A
// subscriber that cannot keep up has the event dropped rather than
// blocking the room.
func (r *Room) BroadcastExcept(event OutboundEvent, except Subscriber) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs {
		if sub == except {
			continue
		}
		sub.Deliver(event)
	}
}

// Hub indexes rooms by document id. Rooms are created implicitly on first
// join and dropped once the last connection unsubscribes.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

func (h *Hub) Subscribe(docID string, sub Subscriber) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		room = newRoom(docID)
		h.rooms[docID] = room
	}
	room.subscribe(sub)
	return room
}

func (h *Hub) Unsubscribe(docID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		return
	}
	if room.unsubscribe(sub) {
		delete(h.rooms, docID)
	}
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
