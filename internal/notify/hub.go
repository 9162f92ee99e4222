package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outbound messages queued per client before it is dropped.
	clientBuffer = 64

	// Notifications queued for the hub loop before new ones are dropped.
	broadcastBuffer = 256
)

// Message is the frame sent to websocket clients.
type Message struct {
	Type    string              `json:"type"`
	Payload models.Notification `json:"payload"`
}

// Hub delivers notifications to the websocket clients of the session they
// belong to.
type Hub struct {
	clients map[string]map[*client]bool

	broadcast  chan models.Notification
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu       sync.Mutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub. allowedOrigins restricts the websocket handshake;
// "*" or an empty list allows every origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*client]bool),
		broadcast:  make(chan models.Notification, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sessionID, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, sessionID)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.sessionID] == nil {
				h.clients[c.sessionID] = make(map[*client]bool)
			}
			h.clients[c.sessionID][c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			h.mu.Unlock()
		case n := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[n.SessionID] {
				select {
				case c.send <- Message{Type: "notification", Payload: n}:
				default:
					h.logger.Warn("websocket client too slow, dropping", "session_id", n.SessionID)
					h.removeLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	set := h.clients[c.sessionID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
}

// Notify queues n for the clients of n.SessionID. It never blocks; when the
// queue is full the notification is dropped.
func (h *Hub) Notify(n models.Notification) {
	select {
	case h.broadcast <- n:
	default:
		h.logger.Warn("notification queue full, dropping", "session_id", n.SessionID, "job_id", n.JobID)
	}
}

// Clients returns the number of connected clients for a session.
func (h *Hub) Clients(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

// ServeWS upgrades the request and subscribes the connection to sessionID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, sessionID: sessionID, conn: conn, send: make(chan Message, clientBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// client is a middleman between the websocket connection and the hub.
type client struct {
	hub       *Hub
	sessionID string
	conn      *websocket.Conn
	send      chan Message
}

// readPump discards inbound frames and unregisters the client when the
// connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			b, err := json.Marshal(message)
			if err != nil {
				c.hub.logger.Error("encoding websocket message", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
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

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
