package feed

import (
	"encoding/json"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
)

// readPump handles messages from the browser
func (h *Hub) readPump(c *Connection) {
	defer func() {
		h.disconnect(c)
		logger.Log.Info("Feed read pump stopped", "connection_id", c.ID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warn("Feed connection error", "connection_id", c.ID, "err", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg models.Message
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			logger.Log.Warn("Failed to parse feed message", "err", err)
			continue
		}
		select {
		case c.IncomingCh <- msg:
		case <-c.DisconnectCh:
			return
		default:
			logger.Log.Warn("Incoming buffer full, dropping message", "type", msg.Type)
		}
	}
}

// writePump serialises every write to the socket, including pings
func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.disconnect(c)
		logger.Log.Info("Feed write pump stopped", "connection_id", c.ID)
	}()
	for {
		select {
		case msg := <-c.SendCh:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Log.Error("Failed to marshal feed message", "type", msg.Type, "err", err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Log.Warn("Failed to write feed message", "type", msg.Type, "err", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Log.Warn("Feed ping failed", "connection_id", c.ID, "err", err)
				return
			}
		case <-c.DisconnectCh:
			return
		}
	}
}

// dispatchPump hands inbound messages to registered handlers
func (h *Hub) dispatchPump(c *Connection) {
	for {
		select {
		case msg := <-c.IncomingCh:
			handler, ok := h.handlers[msg.Type]
			if !ok {
				logger.Log.Warn("No handler for feed message type", "type", msg.Type)
				continue
			}
			if err := handler(c, &msg); err != nil {
				logger.Log.Error("Feed handler error", "type", msg.Type, "err", err)
			}
		case <-c.DisconnectCh:
			return
		}
	}
}
