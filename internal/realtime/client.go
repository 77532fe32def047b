package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go-foodie/internal/apperr"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 512 // sessions only send control frames
	authTimeout  = 5 * time.Second
)

// Client is a middleman between one websocket session and the hub.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   uuid.UUID
	Username string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, username string) *Client {
	return &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), UserID: userID, Username: username}
}

// ReadPump handles subscribe/unsubscribe frames until the connection dies.
func (c *Client) ReadPump() {
	defer c.Conn.Close()
	defer c.Hub.Unregister(c)

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Debug("websocket closed", zap.String("user_id", c.UserID.String()), zap.Error(err))
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var frame ControlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.respond(errorPayload("", apperr.Validation("malformed frame", err)))
		return
	}

	switch frame.Action {
	case ActionSubscribe:
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		err := c.Hub.authz.CanSubscribe(ctx, c.UserID, frame.Channel)
		cancel()
		if err != nil {
			c.respond(errorPayload(frame.Channel, err))
			return
		}
		offer(c.Hub.done, c.Hub.subscribe, subscription{client: c, channel: frame.Channel})
	case ActionUnsubscribe:
		offer(c.Hub.done, c.Hub.unsubscribe, subscription{client: c, channel: frame.Channel})
	default:
		c.respond(errorPayload(frame.Channel, apperr.Validation("unknown action", nil)))
	}
}

// respond queues a payload for this session through the hub, which owns Send.
func (c *Client) respond(payload []byte) {
	offer(c.Hub.done, c.Hub.reply, reply{client: c, payload: payload})
}

// WritePump owns every write on the connection. It returns when the hub closes
// Send or a write fails.
func (c *Client) WritePump() {
	keepalive := time.NewTicker(pingPeriod)
	defer keepalive.Stop()
	defer c.Conn.Close()

	for {
		select {
		case payload, open := <-c.Send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, c.batch(payload)); err != nil {
				c.Hub.log.Debug("websocket write failed", zap.String("user_id", c.UserID.String()), zap.Error(err))
				return
			}
		case <-keepalive.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// batch joins first with the events already queued behind it into one
// newline-separated frame. A close seen while draining is left for the next receive.
// Payloads are shared across sessions, so the frame is built in a fresh buffer.
func (c *Client) batch(first []byte) []byte {
	queued := len(c.Send)
	if queued == 0 {
		return first
	}
	frame := bytes.NewBuffer(make([]byte, 0, len(first)*(queued+1)))
	frame.Write(first)
	for range queued {
		payload, open := <-c.Send
		if !open {
			break
		}
		frame.WriteByte('\n')
		frame.Write(payload)
	}
	return frame.Bytes()
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}
