package devserver

import (
	"sync"
	"sync/atomic"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// wsClient is a middleman between one websocket connection and the hub.
type wsClient struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID uuid.UUID

	// Buffered channel of outbound messages.
	Send chan []byte

	dropOnce sync.Once
	dropped  atomic.Bool
}

// serveWs registers the connection and pumps until it ends. It runs inside
// the fiber websocket handler, which must not return before the socket is done.
func serveWs(hub *Hub, conn *websocket.Conn, userID uuid.UUID) {
	client := &wsClient{Hub: hub, Conn: conn, UserID: userID, Send: make(chan []byte, 256)}
	select {
	case hub.register <- client:
	case <-hub.quit:
		return
	}

	go client.writePump()
	client.readPump()
}

// drop severs the socket without a close frame, producing 1006 on the peer.
// Closing the hijacked conn is a no-op under fiber, so both pumps are made to
// fail instead; the raw connection is closed once the handler returns.
func (c *wsClient) drop() {
	c.dropOnce.Do(func() {
		c.dropped.Store(true)
		now := time.Now()
		_ = c.Conn.SetWriteDeadline(now)
		_ = c.Conn.SetReadDeadline(now)
	})
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.quit:
		}
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if fws.IsUnexpectedCloseError(err, fws.CloseNormalClosure, fws.CloseGoingAway) {
				c.Hub.logger.Debug("Hub", "Read ended", map[string]interface{}{
					"user_id": c.UserID,
					"error":   err.Error(),
				})
			}
			return
		}
		// Inbound frames are ignored; the channel is push-only.
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if c.dropped.Load() {
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(fws.CloseMessage, fws.FormatCloseMessage(fws.CloseGoingAway, "server shutdown"))
				return
			}
			// One frame per message: the client validates each frame on its own.
			if err := c.Conn.WriteMessage(fws.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if c.dropped.Load() {
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(fws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
