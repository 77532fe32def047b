package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go-foodie/internal/apperr"
	"go-foodie/internal/realtime"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const fanOutTimeout = 5 * time.Second

var validate = validator.New()

// Service is the message gateway: it persists first, then fans out best effort.
type Service struct {
	repo      Repository
	publisher realtime.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, publisher realtime.Publisher, log *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		log:       log.Named("chat"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation resolves or creates the conversation between the caller and the
// requested participants. Two-party conversations are resolved per unordered pair.
func (s *Service) CreateConversation(ctx context.Context, callerID uuid.UUID, req CreateConversationRequest) (*Conversation, error) {
	if lo.Contains(req.ParticipantIDs, uuid.Nil) {
		return nil, apperr.Validation("participant ids must be valid uuids", nil)
	}
	ids := lo.Uniq(append([]uuid.UUID{callerID}, req.ParticipantIDs...))
	if len(ids) < 2 {
		return nil, apperr.Validation("a conversation needs at least one other participant", nil)
	}
	isGroup := req.IsGroup || len(ids) > 2

	now := s.now()
	conv, err := s.repo.CreateConversation(ctx, Conversation{
		ID:        uuid.New(),
		IsGroup:   isGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}, ids)
	if err != nil {
		return nil, s.mapError(err)
	}

	if !isGroup {
		// An existing direct conversation may have soft-removed the caller.
		if err := s.requireActive(ctx, conv.ID, callerID); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

// Send validates and persists one message, then publishes it to the conversation channel
// and to every other participant's personal channel.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, req SendMessageRequest) (*Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperr.Validation("content is required", nil)
	}
	if err := validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid message", err)
	}
	if req.Type == "" {
		req.Type = TypeText
	}

	conversationID := req.ConversationID
	if conversationID == uuid.Nil {
		recipients := lo.Without(lo.Uniq(append(slices.Clone(req.RecipientIDs), req.RecipientID)), uuid.Nil, senderID)
		if len(recipients) == 0 {
			return nil, apperr.Validation("conversation_id or recipient_id is required", nil)
		}
		conv, err := s.CreateConversation(ctx, senderID, CreateConversationRequest{
			ParticipantIDs: recipients,
			IsGroup:        len(recipients) > 1,
		})
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	}

	if err := s.requireActive(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	msg, err := s.repo.InsertMessage(ctx, Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		Type:           req.Type,
	})
	if err != nil {
		return nil, s.mapError(err)
	}

	s.fanOutMessage(ctx, msg)
	return msg, nil
}

// Fetch returns one page of history, oldest to newest within the page. Page 1 holds the
// newest messages. Reading advances the caller's read cursor.
func (s *Service) Fetch(ctx context.Context, userID, conversationID uuid.UUID, page, pageSize int) (*MessagePage, error) {
	if page < 1 {
		return nil, apperr.Validation("page must be at least 1", nil)
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	participant, err := s.activeParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListMessages(ctx, conversationID, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return nil, s.mapError(err)
	}
	hasMore := len(rows) > pageSize
	if hasMore {
		rows = rows[:pageSize]
	}
	slices.Reverse(rows)

	cursor, err := s.advanceRead(ctx, conversationID, userID, false)
	if err != nil {
		// Reading still succeeds; the next visibility trigger retries the cursor.
		s.log.Warn("advance read cursor on fetch", zap.String("conversation_id", conversationID.String()), zap.Error(err))
		cursor = participant.LastReadAt
	}

	if rows == nil {
		rows = []Message{}
	}
	return &MessagePage{Messages: rows, Page: page, HasMore: hasMore, LastReadAt: cursor}, nil
}

// MarkRead advances the caller's read cursor to now and announces it.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (*Receipt, error) {
	if err := s.requireActive(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	cursor, err := s.advanceRead(ctx, conversationID, userID, true)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &Receipt{ConversationID: conversationID, ReaderID: userID, LastReadAt: cursor}, nil
}

func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	summaries, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if summaries == nil {
		summaries = []ConversationSummary{}
	}
	return summaries, nil
}

// IsActiveParticipant backs channel authorization.
func (s *Service) IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	p, err := s.repo.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotParticipant) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsActive, nil
}

// advanceRead publishes a message_read event when forced or when the cursor passed unread messages.
func (s *Service) advanceRead(ctx context.Context, conversationID, userID uuid.UUID, force bool) (time.Time, error) {
	unread := 0
	if !force {
		n, err := s.repo.CountUnread(ctx, conversationID, userID)
		if err != nil {
			return time.Time{}, err
		}
		unread = n
	}

	cursor, err := s.repo.AdvanceReadCursor(ctx, conversationID, userID, s.now())
	if err != nil {
		return time.Time{}, err
	}

	if force || unread > 0 {
		receipt := Receipt{ConversationID: conversationID, ReaderID: userID, LastReadAt: cursor}
		s.publish(ctx, realtime.EventMessageRead, receipt,
			realtime.ConversationChannel(conversationID),
			realtime.UserMessagesChannel(userID))
	}
	return cursor, nil
}

func (s *Service) fanOutMessage(ctx context.Context, msg *Message) {
	participants, err := s.repo.ActiveParticipants(ctx, msg.ConversationID)
	if err != nil {
		s.log.Warn("fan-out skipped: participant lookup failed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		participants = nil
	}

	channels := []string{realtime.ConversationChannel(msg.ConversationID)}
	for _, p := range participants {
		if p.UserID != msg.SenderID {
			channels = append(channels, realtime.UserMessagesChannel(p.UserID))
		}
	}
	s.publish(ctx, realtime.EventNewMessage, msg, channels...)
}

// publish never fails the caller: the write it announces has already committed.
func (s *Service) publish(ctx context.Context, eventType string, data any, channels ...string) {
	evt, err := realtime.NewEvent(eventType, "", data)
	if err != nil {
		s.log.Error("build event", zap.String("type", eventType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanOutTimeout)
	defer cancel()
	for _, channel := range channels {
		if err := s.publisher.Publish(ctx, channel, evt); err != nil {
			s.log.Warn("fan-out failed", zap.String("type", eventType), zap.Error(apperr.FanOut(channel, err)))
		}
	}
}

func (s *Service) activeParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*Participant, error) {
	p, err := s.repo.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if !p.IsActive {
		return nil, apperr.Forbidden("not an active participant of this conversation", nil)
	}
	return p, nil
}

func (s *Service) requireActive(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.activeParticipant(ctx, conversationID, userID)
	return err
}

func (s *Service) mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("conversation", err)
	case errors.Is(err, ErrNotParticipant):
		return apperr.Forbidden("not an active participant of this conversation", err)
	case errors.Is(err, ErrUnknownUser):
		return apperr.NotFound("user", err)
	default:
		return apperr.Internal("record store failure", err)
	}
}
