package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go-foodie/internal/apperr"
	"go-foodie/internal/realtime"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const fanOutTimeout = 5 * time.Second

var validate = validator.New()

// Service persists activity notifications and announces them on the recipient's
// notifications channel.
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
		log:       log.Named("notification"),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Create records an activity by senderID for the recipient. Acting on yourself
// produces nothing and returns a nil notification.
func (s *Service) Create(ctx context.Context, senderID uuid.UUID, req CreateRequest) (*Notification, error) {
	if err := validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid notification", err)
	}
	if req.RecipientID == senderID {
		return nil, nil
	}
	payload := req.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	} else if !json.Valid(payload) {
		return nil, apperr.Validation("payload must be valid JSON", nil)
	}

	n := Notification{
		ID:          uuid.New(),
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Payload:     payload,
		CreatedAt:   s.now(),
	}
	if senderID != uuid.Nil {
		n.SenderID = &senderID
	}
	if err := s.repo.Insert(ctx, n); err != nil {
		return nil, s.mapError(err)
	}

	s.publish(ctx, n.RecipientID, realtime.EventNewNotification, n)
	return &n, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) (*ListResult, error) {
	if limit < 1 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative", nil)
	}
	rows, err := s.repo.List(ctx, userID, offset, limit+1, unreadOnly)
	if err != nil {
		return nil, s.mapError(err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if rows == nil {
		rows = []Notification{}
	}
	return &ListResult{Notifications: rows, UnreadCount: unread, HasMore: hasMore}, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID, read bool) (*Notification, error) {
	n, err := s.repo.SetRead(ctx, id, userID, read)
	if err != nil {
		return nil, s.mapError(err)
	}
	s.publish(ctx, userID, realtime.EventNotificationRead, Change{NotificationID: &n.ID, Read: read, UnreadCount: s.unreadAfter(ctx, userID)})
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	changed, err := s.repo.SetAllRead(ctx, userID)
	if err != nil {
		return 0, s.mapError(err)
	}
	s.publish(ctx, userID, realtime.EventNotificationRead, Change{All: true, Read: true, UnreadCount: s.unreadAfter(ctx, userID)})
	return changed, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return s.mapError(err)
	}
	s.publish(ctx, userID, realtime.EventNotificationDeleted, Change{NotificationID: &id, UnreadCount: s.unreadAfter(ctx, userID)})
	return nil
}

// unreadAfter reads the total a write left behind, so sessions that never cached the
// changed item can still correct their badge.
func (s *Service) unreadAfter(ctx context.Context, userID uuid.UUID) *int {
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		s.log.Warn("count unread after write", zap.Stringer("user_id", userID), zap.Error(err))
		return nil
	}
	return &unread
}

func (s *Service) publish(ctx context.Context, recipientID uuid.UUID, eventType string, data any) {
	channel := realtime.UserNotificationsChannel(recipientID)
	evt, err := realtime.NewEvent(eventType, channel, data)
	if err != nil {
		s.log.Error("build event", zap.String("type", eventType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanOutTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, channel, evt); err != nil {
		s.log.Warn("fan-out failed", zap.String("type", eventType), zap.Error(apperr.FanOut(channel, err)))
	}
}

func (s *Service) mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		// Other users' notifications look the same as missing ones.
		return apperr.NotFound("notification", err)
	case errors.Is(err, ErrUnknownUser):
		return apperr.NotFound("user", err)
	default:
		return apperr.Internal("record store failure", err)
	}
}
