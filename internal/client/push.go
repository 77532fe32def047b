package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go-foodie/internal/apperr"
	"go-foodie/internal/realtime"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	eventBuffer = 256
)

var ErrPushClosed = errors.New("push connection closed")

// PushConn is one websocket session. Events for subscribed channels arrive on Events;
// control acks are consumed internally by Subscribe and Unsubscribe.
type PushConn struct {
	conn   *websocket.Conn
	events chan realtime.Event

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[string][]chan error
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the push channel at baseURL (http or https) with the bearer token.
func Dial(ctx context.Context, baseURL, token string) (*PushConn, error) {
	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperr.Unauthorized("push channel rejected credentials", err)
		}
		return nil, apperr.Transient("dial push channel", err)
	}

	p := &PushConn{
		conn:    conn,
		events:  make(chan realtime.Event, eventBuffer),
		waiters: make(map[string][]chan error),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

func (p *PushConn) Events() <-chan realtime.Event {
	return p.events
}

// Done is closed when the connection ends; Err then tells why.
func (p *PushConn) Done() <-chan struct{} {
	return p.done
}

func (p *PushConn) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *PushConn) Subscribe(ctx context.Context, channel string) error {
	return p.control(ctx, realtime.ActionSubscribe, channel)
}

func (p *PushConn) Unsubscribe(ctx context.Context, channel string) error {
	return p.control(ctx, realtime.ActionUnsubscribe, channel)
}

func (p *PushConn) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	p.writeMu.Unlock()
	p.shutdown(ErrPushClosed)
	return nil
}

// control sends one frame and waits for the hub's ack for that channel.
func (p *PushConn) control(ctx context.Context, action, channel string) error {
	ack := make(chan error, 1)
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	p.waiters[channel] = append(p.waiters[channel], ack)
	p.mu.Unlock()

	frame, _ := json.Marshal(realtime.ControlFrame{Action: action, Channel: channel})
	p.writeMu.Lock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := p.conn.WriteMessage(websocket.TextMessage, frame)
	p.writeMu.Unlock()
	if err != nil {
		p.forget(channel, ack)
		return apperr.Transient(action+" "+channel, err)
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		p.forget(channel, ack)
		return ctx.Err()
	}
}

func (p *PushConn) forget(channel string, ack chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.waiters[channel]
	for i, w := range queue {
		if w == ack {
			p.waiters[channel] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(p.waiters[channel]) == 0 {
		delete(p.waiters, channel)
	}
}

// resolve completes the oldest pending control call for channel.
func (p *PushConn) resolve(channel string, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.waiters[channel]
	if len(queue) == 0 {
		return false
	}
	queue[0] <- err
	if len(queue) == 1 {
		delete(p.waiters, channel)
	} else {
		p.waiters[channel] = queue[1:]
	}
	return true
}

func (p *PushConn) readLoop() {
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPingHandler(func(data string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		return p.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			p.shutdown(apperr.Transient("push channel lost", err))
			return
		}
		// The hub batches queued events into one frame, newline separated.
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var evt realtime.Event
			if err := json.Unmarshal(line, &evt); err != nil {
				continue
			}
			p.dispatch(evt)
		}
	}
}

func (p *PushConn) dispatch(evt realtime.Event) {
	switch evt.Type {
	case realtime.EventSubscribed, realtime.EventUnsubscribed:
		p.resolve(evt.Channel, nil)
		return
	case realtime.EventError:
		var data realtime.ErrorData
		_ = evt.Decode(&data)
		code := data.Code
		if code == "" {
			code = apperr.CodeValidation
		}
		if p.resolve(evt.Channel, apperr.New(code, data.Message, statusFor(code), nil)) {
			return
		}
	}

	select {
	case p.events <- evt:
	case <-p.done:
	}
}

func (p *PushConn) shutdown(reason error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.err = reason
		for channel, queue := range p.waiters {
			for _, ack := range queue {
				ack <- reason
			}
			delete(p.waiters, channel)
		}
		p.mu.Unlock()

		close(p.done)
		_ = p.conn.Close()
	})
}

func statusFor(code string) int {
	switch code {
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
