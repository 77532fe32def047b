package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrNotParticipant = errors.New("not a participant")
	ErrUnknownUser    = errors.New("unknown user")
)

// Repository is the record store for conversations, participants and messages.
type Repository interface {
	// CreateConversation inserts conv with its participants. For direct conversations it is
	// idempotent on the unordered pair and returns the existing conversation instead.
	CreateConversation(ctx context.Context, conv Conversation, participantIDs []uuid.UUID) (*Conversation, error)
	// GetParticipant returns ErrNotFound when the conversation does not exist and
	// ErrNotParticipant when the user never joined it.
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*Participant, error)
	ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]Participant, error)

	// InsertMessage assigns created_at and delivered_at and touches the conversation's
	// last-message pointer in the same transaction.
	InsertMessage(ctx context.Context, msg Message) (*Message, error)
	// ListMessages returns up to limit messages newest first, skipping offset.
	ListMessages(ctx context.Context, conversationID uuid.UUID, offset, limit int) ([]Message, error)

	// AdvanceReadCursor moves last_read_at forward to at (never backwards), stamps read_at on
	// the other participants' messages it passes, and returns the resulting cursor.
	AdvanceReadCursor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (time.Time, error)
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error)
}
