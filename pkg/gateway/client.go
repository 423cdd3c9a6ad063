package gateway

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Content is capped at 2000
	// characters, which is up to 8000 bytes of UTF-8 plus the envelope.
	maxMessageSize = 16 << 10
)

var connIDs atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   uint64
	user *model.User

	// Buffered channel of outbound frames. Closed by the hub only.
	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, user *model.User, buffer int) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   connIDs.Add(1),
		user: user,
		send: make(chan []byte, buffer),
	}
}

func (c *Client) User() *model.User { return c.user }

// readPump hands every inbound frame to handle, one at a time, until the
// connection fails or closes.
func (c *Client) readPump(handle func(*Client, []byte)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("user", c.user.Username).Msg("websocket read failed")
			}
			return
		}
		handle(c, frame)
	}
}

// writePump writes frames from the hub to the connection, one websocket
// message per frame, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
