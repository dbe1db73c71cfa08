package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
)

const defaultWriteWait = 10 * time.Second

// Conn wraps a websocket connection with a per-connection write lock and a
// write deadline. gorilla allows one concurrent writer per connection, so
// every write after the upgrade goes through WriteJSON here, whether it
// originates in the read loop or in a broadcast.
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	writeMu sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, writeWait: defaultWriteWait}
}

// WriteJSON serializes the write and bounds it with a deadline, so one
// stalled peer cannot block a writer indefinitely.
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.ws.WriteJSON(v)
}

// ReadMessage reads the next message. Reads need no lock; the read loop is
// the single reader.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Hub stores active connections grouped by session and keyed by user ID. A
// reconnecting user displaces their previous connection.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Conn
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*Conn),
		log:      log,
	}
}

// Add registers a connection for a session member.
func (h *Hub) Add(sessionID, userID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.sessions[sessionID]
	if !ok {
		members = make(map[string]*Conn)
		h.sessions[sessionID] = members
	}
	if old, ok := members[userID]; ok {
		_ = old.Close()
	}
	members[userID] = c

	logger.Debug(h.ctx(sessionID), h.log, "ws_registered", "Connection registered", "user_id", userID)
}

// Remove deletes and closes a member's connection if it is still the one
// registered.
func (h *Hub) Remove(sessionID, userID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	cur, ok := members[userID]
	if !ok || cur != c {
		return
	}
	_ = cur.Close()
	delete(members, userID)
	if len(members) == 0 {
		delete(h.sessions, sessionID)
	}

	logger.Debug(h.ctx(sessionID), h.log, "ws_removed", "Connection removed", "user_id", userID)
}

// SendToSession transmits a JSON message to every connected member of a
// session. Per-connection write failures are logged and skipped; the next
// broadcast supersedes anything missed.
func (h *Hub) SendToSession(sessionID string, msg any) {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.WriteJSON(msg); err != nil {
			logger.Debug(h.ctx(sessionID), h.log, "ws_send_failed", "Broadcast write failed",
				"error", err.Error())
		}
	}
}

// SendToMember transmits a JSON message to one member, if connected.
func (h *Hub) SendToMember(sessionID, userID string, msg any) error {
	h.mu.RLock()
	c, ok := h.sessions[sessionID][userID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.WriteJSON(msg)
}

func (h *Hub) ctx(sessionID string) context.Context {
	return contextx.WithSessionID(context.Background(), sessionID)
}
