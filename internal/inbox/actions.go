package inbox

import (
	"time"

	"go-foodie/internal/chat"
	"go-foodie/internal/realtime"

	"github.com/google/uuid"
)

// Action is one state transition of the conversation cache. Actions are applied in
// order by the Store goroutine.
type Action interface {
	apply(s *state) Effect
}

// Effect tells the session what follow-up an action needs.
type Effect struct {
	Changed bool
	// RefreshList is set when the conversation list can no longer be kept exact
	// locally, for example a message for a conversation the cache has never seen.
	RefreshList bool
}

// ConversationsLoaded replaces the summaries with a fresh server list. Thread caches are kept.
type ConversationsLoaded struct {
	Summaries []chat.ConversationSummary
}

func (a ConversationsLoaded) apply(s *state) Effect {
	effect := Effect{Changed: true}
	next := make(map[uuid.UUID]*summary, len(a.Summaries))
	for _, in := range a.Summaries {
		sm := newSummary(in.Conversation)
		sm.participants = in.Participants
		sm.cursor = in.LastReadAt
		sm.baseUnread = in.UnreadCount
		if in.LastMessage != nil {
			last := *in.LastMessage
			sm.last = &last
			baseline := last
			sm.baseline = &baseline
		}

		if prev, ok := s.summaries[in.Conversation.ID]; ok {
			// Pushes newer than the server's snapshot are not in its count yet.
			for id, at := range prev.pushed {
				if at.After(sm.cursor) && (sm.baseline == nil || sm.baseline.CreatedAt.Before(at)) {
					sm.pushed[id] = at
				}
			}
			if prev.last != nil {
				sm.touch(*prev.last)
			}
			// A cursor seen since the snapshot was taken still applies.
			sm.advance(prev.cursor, s.self, s.threads[in.Conversation.ID])
			if sm.stale {
				effect.RefreshList = true
			}
		}
		next[in.Conversation.ID] = sm
	}
	s.summaries = next
	return effect
}

// ConversationActivated makes id the conversation whose thread receives live messages.
type ConversationActivated struct {
	ID uuid.UUID
}

func (a ConversationActivated) apply(s *state) Effect {
	if s.active == a.ID {
		return Effect{}
	}
	s.active = a.ID
	return Effect{Changed: true}
}

// PageFetched merges one history page. Pages for a conversation that is no longer
// active are dropped.
type PageFetched struct {
	ConversationID uuid.UUID
	Page           chat.MessagePage
}

func (a PageFetched) apply(s *state) Effect {
	if a.ConversationID != s.active {
		return Effect{}
	}
	th := s.thread(a.ConversationID)
	for _, m := range a.Page.Messages {
		s.mergeMessage(th, m)
	}
	if !th.loaded || a.Page.Page >= th.oldest {
		th.hasMore = a.Page.HasMore
		th.oldest = a.Page.Page
	}
	th.loaded = true

	effect := Effect{Changed: true}
	if sm, ok := s.summaries[a.ConversationID]; ok {
		if n := len(a.Page.Messages); n > 0 {
			sm.touch(a.Page.Messages[n-1])
		}
		sm.advance(a.Page.LastReadAt, s.self, th)
		effect.RefreshList = sm.stale
	} else {
		effect.RefreshList = true
	}
	return effect
}

// PushReceived applies one event from the conversation or personal message channels.
type PushReceived struct {
	Event realtime.Event
}

func (a PushReceived) apply(s *state) Effect {
	switch a.Event.Type {
	case realtime.EventNewMessage:
		var msg chat.Message
		if err := a.Event.Decode(&msg); err != nil || msg.ID == uuid.Nil {
			return Effect{}
		}
		return s.receive(msg, true)

	case realtime.EventMessageRead:
		var receipt chat.Receipt
		if err := a.Event.Decode(&receipt); err != nil {
			return Effect{}
		}
		if receipt.ReaderID == s.self {
			return ReadAdvanced{ConversationID: receipt.ConversationID, LastReadAt: receipt.LastReadAt}.apply(s)
		}
		s.peerReadAdvanced(receipt.ConversationID, receipt.LastReadAt)
		return Effect{Changed: true}
	}
	return Effect{}
}

// receive handles a confirmed message arriving by push or as a send confirmation.
// Only the active conversation's thread takes live messages; other conversations
// update their summary alone.
func (s *state) receive(msg chat.Message, countUnread bool) Effect {
	sm, known := s.summaries[msg.ConversationID]
	if !known {
		sm = s.summary(chat.Conversation{ID: msg.ConversationID, CreatedAt: msg.CreatedAt, UpdatedAt: msg.CreatedAt})
	}

	active := msg.ConversationID == s.active
	if active {
		s.mergeMessage(s.thread(msg.ConversationID), msg)
	}
	sm.observe(msg, s.self, countUnread && !active)
	return Effect{Changed: true, RefreshList: !known}
}

// PendingSend is a message the user submitted that the gateway has not confirmed yet.
// It never enters a thread; the confirmed record does.
type PendingSend struct {
	TempID         uuid.UUID
	ConversationID uuid.UUID // nil when sending by recipient
	RecipientID    uuid.UUID
	Content        string
	StartedAt      time.Time
	Err            error
}

func (p PendingSend) Failed() bool {
	return p.Err != nil
}

type SendStarted struct {
	Pending PendingSend
}

func (a SendStarted) apply(s *state) Effect {
	p := a.Pending
	s.pending[p.TempID] = &p
	return Effect{Changed: true}
}

type SendConfirmed struct {
	TempID  uuid.UUID
	Message chat.Message
}

func (a SendConfirmed) apply(s *state) Effect {
	delete(s.pending, a.TempID)
	return s.receive(a.Message, false)
}

// SendFailed keeps the pending entry with its error so it can be shown and retried.
type SendFailed struct {
	TempID uuid.UUID
	Err    error
}

func (a SendFailed) apply(s *state) Effect {
	p, ok := s.pending[a.TempID]
	if !ok {
		return Effect{}
	}
	p.Err = a.Err
	return Effect{Changed: true}
}

// SendDismissed drops a failed pending entry.
type SendDismissed struct {
	TempID uuid.UUID
}

func (a SendDismissed) apply(s *state) Effect {
	if _, ok := s.pending[a.TempID]; !ok {
		return Effect{}
	}
	delete(s.pending, a.TempID)
	return Effect{Changed: true}
}

// ReadAdvanced moves the session user's read cursor for a conversation forward.
type ReadAdvanced struct {
	ConversationID uuid.UUID
	LastReadAt     time.Time
}

func (a ReadAdvanced) apply(s *state) Effect {
	sm, ok := s.summaries[a.ConversationID]
	if !ok {
		return Effect{}
	}
	before := sm.unread()
	sm.advance(a.LastReadAt, s.self, s.threads[a.ConversationID])
	return Effect{Changed: before != sm.unread(), RefreshList: sm.stale}
}
