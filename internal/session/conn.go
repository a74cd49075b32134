// Package session routes WebSocket sessions for /game-control: it owns the
// player-to-session maps, fans out game status, and delivers invoice
// notifications on behalf of the polling engine.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 512 * 1024       // 512KB max frame size
	sendBuffer = 256              // Per-session outbound channel buffer
)

// Conn is one WebSocket session. All writes go through the send channel to
// the writePump goroutine; readPump is the only reader. That split removes
// any chance of concurrent writes to the socket.
type Conn struct {
	router *Router
	ws     *websocket.Conn
	id     string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// close shuts the session down exactly once and detaches it from the router.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.router.unregister(c)
		c.ws.Close()
		slog.Info("Session disconnected", "conn", c.id)
	})
}

// enqueue marshals v onto the send channel. Never blocks: a full buffer
// drops the frame and returns false, so one stuck socket cannot stall the
// rest of the system.
func (c *Conn) enqueue(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal outbound frame", "conn", c.id, "error", err)
		return false
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		slog.Warn("Send buffer full, dropping frame", "conn", c.id)
		return false
	}
}

// writePump serializes all writes to the socket: queued frames, pings, and
// the close frame.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("Write failed", "conn", c.id, "error", err)
				return
			}

			// Drain whatever queued up while we were writing
			n := len(c.send)
			for i := 0; i < n; i++ {
				msg := <-c.send
				if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Warn("Batch write failed", "conn", c.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Warn("Ping failed", "conn", c.id, "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump reads frames off the socket and hands them to the router.
func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMsgSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket error", "conn", c.id, "error", err)
			}
			return
		}

		c.router.dispatch(c, payload)
	}
}
