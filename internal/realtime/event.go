package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	EventNewMessage          = "new_message"
	EventMessageRead         = "message_read"
	EventNewNotification     = "new_notification"
	EventNotificationRead    = "notification_read"
	EventNotificationDeleted = "notification_deleted"

	// Control events, sent by the hub to a single session.
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Event is the envelope carried on every channel. Data holds the full record.
type Event struct {
	Type       string          `json:"type"`
	Channel    string          `json:"channel"`
	ServerTime time.Time       `json:"server_time"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ControlFrame is what a session sends over its socket.
type ControlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// ErrorData rides on error events. Code is an apperr code when one applies.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func NewEvent(eventType, channel string, data any) (Event, error) {
	evt := Event{Type: eventType, Channel: channel, ServerTime: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		evt.Data = raw
	}
	return evt, nil
}

func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

type ChannelKind int

const (
	KindConversation ChannelKind = iota + 1
	KindUserMessages
	KindUserNotifications
)

const (
	conversationPrefix = "conversation:"
	userPrefix         = "user:"

	ConversationPattern = conversationPrefix + "*"
	UserPattern         = userPrefix + "*"
)

var ErrBadChannel = errors.New("malformed channel name")

func ConversationChannel(id uuid.UUID) string {
	return conversationPrefix + id.String()
}

func UserMessagesChannel(id uuid.UUID) string {
	return userPrefix + id.String() + ":messages"
}

func UserNotificationsChannel(id uuid.UUID) string {
	return userPrefix + id.String() + ":notifications"
}

// ParseChannel splits a channel name into its kind and owning id.
func ParseChannel(name string) (ChannelKind, uuid.UUID, error) {
	switch {
	case strings.HasPrefix(name, conversationPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(name, conversationPrefix))
		if err != nil {
			return 0, uuid.Nil, ErrBadChannel
		}
		return KindConversation, id, nil
	case strings.HasPrefix(name, userPrefix):
		parts := strings.Split(strings.TrimPrefix(name, userPrefix), ":")
		if len(parts) != 2 {
			return 0, uuid.Nil, ErrBadChannel
		}
		id, err := uuid.Parse(parts[0])
		if err != nil {
			return 0, uuid.Nil, ErrBadChannel
		}
		switch parts[1] {
		case "messages":
			return KindUserMessages, id, nil
		case "notifications":
			return KindUserNotifications, id, nil
		}
	}
	return 0, uuid.Nil, ErrBadChannel
}
