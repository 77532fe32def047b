package chat

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

const (
	MaxContentLength = 2000
	DefaultPageSize  = 20
)

type MessageType string

const (
	TypeText          MessageType = "text"
	TypeSharedContent MessageType = "shared_content"
)

// Status is the sender-side view of a message: sent -> delivered -> read, never backwards.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	IsGroup       bool       `json:"is_group"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LastMessageID *uuid.UUID `json:"last_message_id,omitempty"`
}

type Participant struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
	IsActive       bool      `json:"is_active"`
	LastReadAt     time.Time `json:"last_read_at"`
}

type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	IsDeleted      bool        `json:"is_deleted"`
}

func (m Message) Status() Status {
	switch {
	case m.ReadAt != nil:
		return StatusRead
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Before reports whether m sorts before o by (created_at, id).
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return bytes.Compare(m.ID[:], o.ID[:]) < 0
}

// ConversationSummary is one row of the caller's conversation list.
type ConversationSummary struct {
	Conversation Conversation  `json:"conversation"`
	Participants []Participant `json:"participants"` // everyone except the caller
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	LastReadAt   time.Time     `json:"last_read_at"` // the caller's cursor
}

// Receipt is the payload of a message_read event.
type Receipt struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ReaderID       uuid.UUID `json:"reader_id"`
	LastReadAt     time.Time `json:"last_read_at"`
}

type MessagePage struct {
	Messages   []Message `json:"messages"` // oldest to newest
	Page       int       `json:"page"`
	HasMore    bool      `json:"has_more"`
	LastReadAt time.Time `json:"last_read_at"`
}

// ---------------------------------------------
// Requests
// ---------------------------------------------

type CreateConversationRequest struct {
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
	IsGroup        bool        `json:"is_group"`
}

type SendMessageRequest struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	RecipientID    uuid.UUID   `json:"recipient_id"`
	RecipientIDs   []uuid.UUID `json:"recipient_ids"`
	Content        string      `json:"content" validate:"required,max=2000"`
	Type           MessageType `json:"type" validate:"omitempty,oneof=text shared_content"`
}

type MarkReadRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// directKey identifies the direct conversation of an unordered user pair.
func directKey(a, b uuid.UUID) string {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

// nextMessageTime keeps created_at strictly increasing inside a conversation at the
// microsecond precision Postgres stores.
func nextMessageTime(now time.Time, last *time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if last != nil && !now.After(*last) {
		return last.UTC().Add(time.Microsecond)
	}
	return now
}
