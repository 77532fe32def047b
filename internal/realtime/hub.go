package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-foodie/internal/apperr"

	"go.uber.org/zap"
)

type subscription struct {
	client  *Client
	channel string
}

type reply struct {
	client  *Client
	payload []byte
}

// Hub routes broker deliveries to the sessions connected to this instance.
// Run is the only goroutine that touches clients and channels. Once Run returns,
// done is closed and every request to the hub is dropped.
type Hub struct {
	clients  map[*Client]map[string]struct{} // client -> subscribed channels
	channels map[string]map[*Client]struct{} // channel -> subscribers

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	reply       chan reply
	broadcast   chan Delivery
	done        chan struct{}

	broker Broker
	authz  Authorizer
	log    *zap.Logger
}

func NewHub(broker Broker, authz Authorizer, log *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]map[string]struct{}),
		channels:    make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		reply:       make(chan reply),
		broadcast:   make(chan Delivery),
		done:        make(chan struct{}),
		broker:      broker,
		authz:       authz,
		log:         log.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.Send)
		}
	}()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = make(map[string]struct{})

		case client := <-h.unregister:
			h.drop(client)

		case sub := <-h.subscribe:
			subs, ok := h.clients[sub.client]
			if !ok {
				continue
			}
			subs[sub.channel] = struct{}{}
			members := h.channels[sub.channel]
			if members == nil {
				members = make(map[*Client]struct{})
				h.channels[sub.channel] = members
			}
			members[sub.client] = struct{}{}
			h.deliver(sub.client, controlPayload(EventSubscribed, sub.channel, ErrorData{}))

		case sub := <-h.unsubscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			h.leave(sub.client, sub.channel)
			h.deliver(sub.client, controlPayload(EventUnsubscribed, sub.channel, ErrorData{}))

		case r := <-h.reply:
			if _, ok := h.clients[r.client]; ok {
				h.deliver(r.client, r.payload)
			}

		case d := <-h.broadcast:
			for client := range h.channels[d.Channel] {
				h.deliver(client, d.Payload)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Listen subscribes to every conversation and user channel and feeds deliveries into
// the hub until ctx ends. It returns once the broker subscription is in place.
func (h *Hub) Listen(ctx context.Context) error {
	deliveries, err := h.broker.Subscribe(ctx, ConversationPattern, UserPattern)
	if err != nil {
		return fmt.Errorf("hub subscribe: %w", err)
	}
	go func() {
		for d := range deliveries {
			select {
			case h.broadcast <- d:
			case <-ctx.Done():
				return
			case <-h.done:
				return
			}
		}
	}()
	return nil
}

// Register attaches a session. It reports false once the hub has stopped, and the
// caller then owns closing the connection.
func (h *Hub) Register(client *Client) bool {
	return offer(h.done, h.register, client)
}

// Unregister detaches a session and closes its Send channel. After shutdown it is a no-op.
func (h *Hub) Unregister(client *Client) {
	offer(h.done, h.unregister, client)
}

// offer hands v to the Run loop unless the hub has stopped.
func offer[T any](done <-chan struct{}, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

// deliver never blocks the hub; a session that cannot keep up is disconnected.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		h.log.Warn("dropping slow client", zap.String("user_id", client.UserID.String()))
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	subs, ok := h.clients[client]
	if !ok {
		return
	}
	for channel := range subs {
		h.leave(client, channel)
	}
	delete(h.clients, client)
	close(client.Send)
}

func (h *Hub) leave(client *Client, channel string) {
	delete(h.clients[client], channel)
	if members, ok := h.channels[channel]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

func controlPayload(eventType, channel string, data ErrorData) []byte {
	evt := Event{Type: eventType, Channel: channel, ServerTime: time.Now().UTC()}
	if data.Message != "" {
		evt.Data, _ = json.Marshal(data)
	}
	payload, _ := json.Marshal(evt)
	return payload
}

func errorPayload(channel string, err error) []byte {
	data := ErrorData{Code: apperr.CodeValidation, Message: err.Error()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		data.Code, data.Message = appErr.Code, appErr.Message
	}
	return controlPayload(EventError, channel, data)
}
