package realtime

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collabedit/api/internal/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Outbound buffer per connection. A connection that falls this far
	// behind starts losing events; delivery is best-effort by design.
	sendBuffer = 64
)

// Gateway upgrades HTTP requests to websocket connections and runs one
// session per connection.
type Gateway struct {
	hub      *Hub
	store    Store
	presence Presence
	policies Policies
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, store Store, presence Presence, policies Policies) *Gateway {
	return &Gateway{
		hub:      hub,
		store:    store,
		presence: presence,
		policies: policies,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS for the socket is enforced at the HTTP layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := newWSClient(conn)
	session := NewSession(util.NewID("conn"), g.hub, g.store, g.presence, g.policies, client)

	go client.writePump()
	g.readLoop(conn, client, session)
}

// readLoop drains the socket on a single goroutine, which gives each
// connection sequential event processing. It returns on disconnect.
func (g *Gateway) readLoop(conn *websocket.Conn, client *wsClient, session *Session) {
	// Session lifetime outlives the HTTP request once the connection is
	// hijacked, so teardown runs against the background context.
	ctx := context.Background()
	defer func() {
		session.Close(ctx)
		client.close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		session.HandleRaw(ctx, data)
	}
}

// wsClient adapts a websocket connection to the Subscriber interface. The
// write pump is the only goroutine that touches the connection's write
// side.
type wsClient struct {
	conn *websocket.Conn
	send chan OutboundEvent
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan OutboundEvent, sendBuffer),
	}
}

// Deliver enqueues an event without blocking. A full buffer drops the
// event and reports false.
func (c *wsClient) Deliver(event OutboundEvent) bool {
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	close(c.send)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
