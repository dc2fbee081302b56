package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type HandlerFunc func(c *Connection, msg *models.Message) error

// Connection is one browser attached to the feed.
type Connection struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	SendCh       chan models.Message
	IncomingCh   chan models.Message
	DisconnectCh chan struct{}
	closeOnce    sync.Once
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		ID:           uuid.NewString(),
		Conn:         conn,
		ConnectedAt:  time.Now(),
		SendCh:       make(chan models.Message, 256),
		IncomingCh:   make(chan models.Message, 64),
		DisconnectCh: make(chan struct{}),
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.DisconnectCh)
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.Conn.Close()
	})
}

// Hub keeps at most one browser connection. A new connection replaces the
// previous one.
type Hub struct {
	mu       sync.RWMutex
	current  *Connection
	handlers map[string]HandlerFunc
	deviceID string
	upgrader websocket.Upgrader
}

func NewHub(deviceID string) *Hub {
	return &Hub{
		handlers: make(map[string]HandlerFunc),
		deviceID: deviceID,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterHandler must be called before the first connection is accepted.
func (h *Hub) RegisterHandler(msgType string, handler HandlerFunc) {
	h.handlers[msgType] = handler
}

// Upgrade switches the request to a WebSocket and attaches it to the feed.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	logger.Log.Info("Trying WebSocket upgrade", "remote", r.RemoteAddr)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", "err", err)
		return nil, err
	}
	c := h.Connect(conn)
	logger.Log.Info("WebSocket upgrade successful", "connection_id", c.ID)
	return c, nil
}

// Connect attaches an established WebSocket, closing any prior one.
func (h *Hub) Connect(conn *websocket.Conn) *Connection {
	c := newConnection(conn)
	h.mu.Lock()
	prior := h.current
	h.current = c
	h.mu.Unlock()
	if prior != nil {
		logger.Log.Info("Closing prior WebSocket connection", "connection_id", prior.ID)
		prior.close()
	}

	go h.readPump(c)
	go h.writePump(c)
	go h.dispatchPump(c)

	h.Send(c, models.Message{
		Type: models.FeedMsgHello,
		Payload: models.FeedHello{
			ConnectionID: c.ID,
			DeviceID:     h.deviceID,
			Timestamp:    time.Now().Unix(),
		},
	})
	return c
}

// Broadcast queues msg for the connected browser. It never blocks and
// reports false when nobody is connected or the send buffer is full.
func (h *Hub) Broadcast(msg models.Message) bool {
	h.mu.RLock()
	c := h.current
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return h.Send(c, msg)
}

func (h *Hub) Send(c *Connection, msg models.Message) bool {
	select {
	case <-c.DisconnectCh:
		return false
	default:
	}
	select {
	case c.SendCh <- msg:
		return true
	default:
		logger.Log.Warn("Feed send buffer full, dropping message", "type", msg.Type)
		return false
	}
}

func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current != nil
}

// Close drops the current connection, if any.
func (h *Hub) Close() {
	h.mu.Lock()
	c := h.current
	h.current = nil
	h.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (h *Hub) disconnect(c *Connection) {
	h.mu.Lock()
	if h.current == c {
		h.current = nil
	}
	h.mu.Unlock()
	c.close()
}
