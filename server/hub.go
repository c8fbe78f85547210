package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsWriteTimeout bounds a single frame write; a peer slower than this is
// dropped rather than allowed to stall the broadcast fan-out.
const wsWriteTimeout = 5 * time.Second

// Event is the push notification envelope. Type is the discriminator
// clients switch on.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub is the WebSocket connection registry. Connections are keyed by a
// monotonically increasing id; broadcast walks the live set and evicts
// peers whose writes fail.
type Hub struct {
	nextID atomic.Uint64
	conns  sync.Map // uint64 -> *wsConn
	log    *zap.Logger
}

type wsConn struct {
	mu   sync.Mutex // serializes writes per gorilla's contract
	sock *websocket.Conn
}

// NewHub builds an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log.Named("ws")}
}

// Add registers a connection and returns its id.
func (h *Hub) Add(sock *websocket.Conn) uint64 {
	id := h.nextID.Add(1)
	h.conns.Store(id, &wsConn{sock: sock})
	return id
}

// Remove closes and forgets a connection.
func (h *Hub) Remove(id uint64) {
	if v, ok := h.conns.LoadAndDelete(id); ok {
		v.(*wsConn).sock.Close()
	}
}

// Count reports the number of live connections.
func (h *Hub) Count() int {
	n := 0
	h.conns.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}

// Send delivers an event to one connection.
func (h *Hub) Send(id uint64, event string, data interface{}) error {
	v, ok := h.conns.Load(id)
	if !ok {
		return websocket.ErrCloseSent
	}
	return v.(*wsConn).write(Event{Type: event, Data: data, Timestamp: time.Now().UTC()})
}

// Emit broadcasts an event to every connection, satisfying the
// pipeline's Emitter. Dead peers are evicted in-line.
func (h *Hub) Emit(event string, data interface{}) {
	msg := Event{Type: event, Data: data, Timestamp: time.Now().UTC()}
	h.conns.Range(func(key, v interface{}) bool {
		if err := v.(*wsConn).write(msg); err != nil {
			h.log.Debug("dropping slow websocket peer", zap.Uint64("id", key.(uint64)), zap.Error(err))
			h.Remove(key.(uint64))
		}
		return true
	})
}

// Close shuts down every connection.
func (h *Hub) Close() {
	h.conns.Range(func(key, _ interface{}) bool {
		h.Remove(key.(uint64))
		return true
	})
}

func (c *wsConn) write(msg Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sock.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.sock.WriteJSON(msg)
}
