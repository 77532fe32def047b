package inbox

import (
	"slices"
	"sort"
	"time"

	"go-foodie/internal/chat"

	"github.com/google/uuid"
)

// ConversationView is one row of the conversation list.
type ConversationView struct {
	Conversation chat.Conversation
	Participants []chat.Participant
	LastMessage  *chat.Message
	UnreadCount  int
	LastReadAt   time.Time // the session user's cursor
}

type ThreadView struct {
	ConversationID uuid.UUID
	Messages       []chat.Message // oldest to newest
	Loaded         bool
	HasMore        bool
	PagesLoaded    int
}

// View is an immutable snapshot of the cache.
type View struct {
	Self          uuid.UUID
	Active        uuid.UUID
	Conversations []ConversationView // most recent activity first
	Threads       map[uuid.UUID]ThreadView
	Pending       []PendingSend // oldest first
	TotalUnread   int
}

func (v View) ActiveThread() (ThreadView, bool) {
	th, ok := v.Threads[v.Active]
	return th, ok
}

func (v View) Conversation(id uuid.UUID) (ConversationView, bool) {
	for _, c := range v.Conversations {
		if c.Conversation.ID == id {
			return c, true
		}
	}
	return ConversationView{}, false
}

func (s *state) view() View {
	v := View{
		Self:    s.self,
		Active:  s.active,
		Threads: make(map[uuid.UUID]ThreadView, len(s.threads)),
	}

	ordered := make([]*summary, 0, len(s.summaries))
	for _, sm := range s.summaries {
		ordered = append(ordered, sm)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].lastActivity(), ordered[j].lastActivity()
		if !a.Equal(b) {
			return a.After(b)
		}
		return ordered[i].conv.ID.String() < ordered[j].conv.ID.String()
	})
	for _, sm := range ordered {
		cv := ConversationView{
			Conversation: sm.conv,
			Participants: slices.Clone(sm.participants),
			UnreadCount:  sm.unread(),
			LastReadAt:   sm.cursor,
		}
		if sm.last != nil {
			last := *sm.last
			cv.LastMessage = &last
		}
		v.TotalUnread += cv.UnreadCount
		v.Conversations = append(v.Conversations, cv)
	}

	for id, th := range s.threads {
		v.Threads[id] = ThreadView{
			ConversationID: id,
			Messages:       slices.Clone(th.messages),
			Loaded:         th.loaded,
			HasMore:        th.hasMore,
			PagesLoaded:    th.oldest,
		}
	}

	for _, p := range s.pending {
		v.Pending = append(v.Pending, *p)
	}
	sort.Slice(v.Pending, func(i, j int) bool { return v.Pending[i].StartedAt.Before(v.Pending[j].StartedAt) })
	return v
}
