package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps the record store in process. It backs STORE_DRIVER=memory and tests.
type MemoryRepository struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	direct        map[string]uuid.UUID
	participants  map[uuid.UUID]map[uuid.UUID]*Participant
	messages      map[uuid.UUID][]Message // ascending by (created_at, id)
	userExists    func(uuid.UUID) bool
}

// NewMemoryRepository returns an empty store. userExists, when non-nil, plays the role of
// the users foreign key.
func NewMemoryRepository(userExists func(uuid.UUID) bool) *MemoryRepository {
	return &MemoryRepository{
		conversations: make(map[uuid.UUID]*Conversation),
		direct:        make(map[string]uuid.UUID),
		participants:  make(map[uuid.UUID]map[uuid.UUID]*Participant),
		messages:      make(map[uuid.UUID][]Message),
		userExists:    userExists,
	}
}

func (r *MemoryRepository) CreateConversation(_ context.Context, conv Conversation, participantIDs []uuid.UUID) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key string
	if !conv.IsGroup {
		if len(participantIDs) != 2 {
			return nil, fmt.Errorf("direct conversation needs 2 participants, got %d", len(participantIDs))
		}
		key = directKey(participantIDs[0], participantIDs[1])
		if id, ok := r.direct[key]; ok {
			existing := *r.conversations[id]
			return &existing, nil
		}
	}
	if r.userExists != nil {
		for _, id := range participantIDs {
			if !r.userExists(id) {
				return nil, ErrUnknownUser
			}
		}
	}

	conv.CreatedAt = conv.CreatedAt.UTC().Truncate(time.Microsecond)
	conv.UpdatedAt = conv.CreatedAt
	stored := conv
	r.conversations[conv.ID] = &stored
	if key != "" {
		r.direct[key] = conv.ID
	}
	members := make(map[uuid.UUID]*Participant, len(participantIDs))
	for _, id := range participantIDs {
		members[id] = &Participant{
			ConversationID: conv.ID,
			UserID:         id,
			JoinedAt:       conv.CreatedAt,
			IsActive:       true,
			LastReadAt:     conv.CreatedAt,
		}
	}
	r.participants[conv.ID] = members
	return &conv, nil
}

func (r *MemoryRepository) GetParticipant(_ context.Context, conversationID, userID uuid.UUID) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	p, ok := r.participants[conversationID][userID]
	if !ok {
		return nil, ErrNotParticipant
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) ActiveParticipants(_ context.Context, conversationID uuid.UUID) ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Participant
	for _, p := range r.participants[conversationID] {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

// SetActive toggles a participant's soft-removal flag.
func (r *MemoryRepository) SetActive(conversationID, userID uuid.UUID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[conversationID][userID]; ok {
		p.IsActive = active
	}
}

func (r *MemoryRepository) InsertMessage(_ context.Context, msg Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}
	createdAt := nextMessageTime(time.Now(), conv.LastMessageAt)
	msg.CreatedAt = createdAt
	msg.DeliveredAt = &createdAt

	r.messages[conv.ID] = append(r.messages[conv.ID], msg)
	conv.LastMessageAt = &createdAt
	conv.LastMessageID = &msg.ID
	conv.UpdatedAt = createdAt
	return &msg, nil
}

func (r *MemoryRepository) ListMessages(_ context.Context, conversationID uuid.UUID, offset, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.messages[conversationID]
	var out []Message
	skipped := 0
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].IsDeleted {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (r *MemoryRepository) AdvanceReadCursor(_ context.Context, conversationID, userID uuid.UUID, at time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[conversationID][userID]
	if !ok {
		return time.Time{}, ErrNotParticipant
	}
	at = at.UTC().Truncate(time.Microsecond)
	// created_at may run a few microseconds ahead of the clock under bursts.
	if last := r.conversations[conversationID].LastMessageAt; last != nil && last.After(at) && last.Sub(at) <= time.Second {
		at = *last
	}
	if at.After(p.LastReadAt) {
		p.LastReadAt = at
	}

	msgs := r.messages[conversationID]
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == userID || m.ReadAt != nil || m.IsDeleted || m.CreatedAt.After(p.LastReadAt) {
			continue
		}
		readAt := at
		m.ReadAt = &readAt
		if m.DeliveredAt == nil {
			m.DeliveredAt = &readAt
		}
	}
	return p.LastReadAt, nil
}

func (r *MemoryRepository) CountUnread(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countUnreadLocked(conversationID, userID), nil
}

func (r *MemoryRepository) countUnreadLocked(conversationID, userID uuid.UUID) int {
	p, ok := r.participants[conversationID][userID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range r.messages[conversationID] {
		if m.CreatedAt.After(p.LastReadAt) && m.SenderID != userID && !m.IsDeleted {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) ListConversations(_ context.Context, userID uuid.UUID) ([]ConversationSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ConversationSummary
	for id, members := range r.participants {
		me, ok := members[userID]
		if !ok || !me.IsActive {
			continue
		}
		s := ConversationSummary{
			Conversation: *r.conversations[id],
			UnreadCount:  r.countUnreadLocked(id, userID),
			LastReadAt:   me.LastReadAt,
		}
		for _, p := range members {
			if p.UserID != userID && p.IsActive {
				s.Participants = append(s.Participants, *p)
			}
		}
		if msgs := r.messages[id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			s.LastMessage = &last
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Conversation, out[j].Conversation
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt == nil:
			return a.UpdatedAt.After(b.UpdatedAt)
		case a.LastMessageAt == nil:
			return false
		case b.LastMessageAt == nil:
			return true
		default:
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
	})
	return out, nil
}
