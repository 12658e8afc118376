package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConn is the slice of *websocket.Conn that Connection needs, narrowed to
// an interface so tests can exercise Room dispatch logic without a live
// socket.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection is spec.md §3's ephemeral Connection: one per live WebSocket,
// owned for its entire lifetime by the Room Actor it belongs to.
type Connection struct {
	id          string
	ws          wsConn
	roomID      string
	connectedAt time.Time

	mu        sync.Mutex
	agentName *string
	lastSeen  time.Time
}

// NewConnection wraps a live *websocket.Conn (or, in tests, any type
// satisfying the narrower wsConn surface) as a room Connection.
func NewConnection(roomID string, ws wsConn) *Connection {
	return newConnection(roomID, ws)
}

func newConnection(roomID string, ws wsConn) *Connection {
	now := time.Now()
	return &Connection{
		id:          uuid.NewString(),
		ws:          ws,
		roomID:      roomID,
		connectedAt: now,
		lastSeen:    now,
	}
}

// ID satisfies frame.Sender.
func (c *Connection) ID() string { return c.id }

// Send satisfies frame.Sender; it writes a single WS text message. gorilla's
// *websocket.Conn forbids concurrent writers, so writes are serialized here
// even though the Room Actor itself is single-threaded — onClose/onError
// may race a final write against teardown.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) CloseWithCode(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.ws.Close()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Connection) setAgentName(name string) {
	c.mu.Lock()
	c.agentName = &name
	c.mu.Unlock()
}

func (c *Connection) AgentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agentName == nil {
		return ""
	}
	return *c.agentName
}

func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}
