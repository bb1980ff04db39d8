// Package notify delivers best-effort push events to the originating
// user over websockets. Delivery is fire-and-forget: terminal state is
// always recoverable by polling the generation status endpoint.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event names pushed to clients.
const (
	EventProgress  = "generation_progress"
	EventCompleted = "generation_completed"
	EventFailed    = "generation_failed"
)

// ProgressEvent reports pipeline progress for one generation.
type ProgressEvent struct {
	GenerationID string `json:"generationId"`
	Progress     int    `json:"progress"`
	Message      string `json:"message"`
}

// TokenSummary accompanies completion events.
type TokenSummary struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// CompletedEvent carries the durable output references.
type CompletedEvent struct {
	GenerationID string       `json:"generationId"`
	Images       []string     `json:"images"`
	Tokens       TokenSummary `json:"tokens"`
}

// FailedEvent carries the client-safe failure message.
type FailedEvent struct {
	GenerationID string `json:"generationId"`
	Error        string `json:"error"`
}

// Notifier is the push contract consumed by the worker pipeline.
type Notifier interface {
	EmitToUser(userID, event string, payload any)
}

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to each user's open websocket connections.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	writeWait time.Duration
	pongWait  time.Duration
}

// NewHub constructs an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logger,
		writeWait: 10 * time.Second,
		pongWait:  60 * time.Second,
	}
}

// HandleConnection upgrades the request and registers the connection
// under the given user until it closes.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("notify: websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(userID, c)
}

// EmitToUser queues an event to every open connection for the user.
// Slow consumers are dropped rather than blocking the worker.
func (h *Hub) EmitToUser(userID, event string, payload any) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("notify: marshal event failed")
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("user_id", userID).Msg("notify: client send buffer full, disconnecting")
			h.remove(userID, c)
		}
	}
}

// ConnectionCount reports the number of open connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) remove(userID string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[userID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, userID)
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(userID string, c *client) {
	defer func() {
		h.remove(userID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

var _ Notifier = (*Hub)(nil)
