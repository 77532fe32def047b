package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeLike    Type = "like"
	TypeFollow  Type = "follow"
	TypeReply   Type = "reply"
	TypeReview  Type = "review"
	TypeMessage Type = "message"
)

const DefaultPageSize = 20

// Notification is created by the actor and afterwards only touched by its recipient.
type Notification struct {
	ID          uuid.UUID       `json:"id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	SenderID    *uuid.UUID      `json:"sender_id,omitempty"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Read        bool            `json:"read"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ListResult struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
	HasMore       bool           `json:"has_more"`
}

// Change is the payload of notification_read and notification_deleted events.
// All is set for mark-all-read and NotificationID is nil then. UnreadCount is the
// recipient's unread total right after the write; nil when it could not be read.
type Change struct {
	NotificationID *uuid.UUID `json:"notification_id,omitempty"`
	All            bool       `json:"all,omitempty"`
	Read           bool       `json:"read"`
	UnreadCount    *int       `json:"unread_count,omitempty"`
}

type CreateRequest struct {
	RecipientID uuid.UUID       `json:"recipient_id" validate:"required"`
	Type        Type            `json:"type" validate:"required,oneof=like follow reply review message"`
	Payload     json.RawMessage `json:"payload"`
}

type UpdateRequest struct {
	NotificationID *uuid.UUID `json:"notification_id"`
	MarkAllRead    bool       `json:"mark_all_read"`
	Read           *bool      `json:"read"`
}

type DeleteRequest struct {
	NotificationID uuid.UUID `json:"notification_id"`
}
