package wshub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"typeflow/internal/metrics"
)

// ClientEvent is the JSON frame received from clients. ID, when nonzero,
// requests an ack frame carrying the same ID.
type ClientEvent struct {
	Event string          `json:"event"`
	ID    int             `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the JSON frame sent to clients.
type ServerEvent struct {
	Event string `json:"event"`
	ID    int    `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// SendBuffer is the per-client outbound queue depth. A client that stays
// behind by this many frames starts losing broadcasts.
const SendBuffer = 256

// Client represents a single WebSocket connection subscribed to a room.
type Client struct {
	ConnID   string
	UserID   string
	UserName string
	Conn     *websocket.Conn
	Send     chan []byte
}

// NewClient wraps a connection with an outbound queue.
func NewClient(connID, userID, userName string, conn *websocket.Conn) *Client {
	return &Client{
		ConnID:   connID,
		UserID:   userID,
		UserName: userName,
		Conn:     conn,
		Send:     make(chan []byte, SendBuffer),
	}
}

// WritePump reads from the Send channel and writes to the WebSocket
// connection. It returns when the channel is closed or ctx is done.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub holds the live connections subscribed to one room. Broadcast order
// is the caller's event order: callers serialize per room, and each
// client's buffered channel preserves queue order.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ConnID] = c
}

// Unregister removes a client from the hub. The Send channel stays open:
// the connection owner still uses it for acks and may register the client
// with another room. No-op for an unknown connID, so an explicit leave
// followed by the transport disconnect is safe.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasUser reports whether any live connection is bound to userID.
func (h *Hub) HasUser(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Broadcast sends an event to every client. Non-blocking: a client whose
// queue is full misses the frame.
func (h *Hub) Broadcast(ev ServerEvent) {
	h.send("", ev)
}

// BroadcastExcept sends an event to every client except connID.
func (h *Hub) BroadcastExcept(connID string, ev ServerEvent) {
	h.send(connID, ev)
}

func (h *Hub) send(exceptID string, ev ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Event).Msg("hub marshal failed")
		return
	}

	metrics.BroadcastsTotal.Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if id == exceptID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			// Drop frame if the client's queue is full
		}
	}
}
