package realtime

import (
	"context"

	"go-foodie/internal/apperr"

	"github.com/google/uuid"
)

type Authorizer interface {
	CanSubscribe(ctx context.Context, userID uuid.UUID, channel string) error
}

type ParticipantChecker interface {
	IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// ChannelAuthorizer lets a user listen on their own personal channels and on the
// channels of conversations they actively participate in.
type ChannelAuthorizer struct {
	participants ParticipantChecker
}

func NewChannelAuthorizer(participants ParticipantChecker) *ChannelAuthorizer {
	return &ChannelAuthorizer{participants: participants}
}

func (a *ChannelAuthorizer) CanSubscribe(ctx context.Context, userID uuid.UUID, channel string) error {
	kind, id, err := ParseChannel(channel)
	if err != nil {
		return apperr.Validation(err.Error(), err)
	}

	switch kind {
	case KindUserMessages, KindUserNotifications:
		if id != userID {
			return apperr.Forbidden("cannot subscribe to another user's channel", nil)
		}
		return nil
	default:
		ok, err := a.participants.IsActiveParticipant(ctx, id, userID)
		if err != nil {
			return apperr.Internal("participant lookup failed", err)
		}
		if !ok {
			return apperr.Forbidden("not a participant of this conversation", nil)
		}
		return nil
	}
}
