package inbox

import (
	"sort"
	"time"

	"go-foodie/internal/chat"

	"github.com/google/uuid"
)

// thread is the cached history of one conversation, sorted by (created_at, id).
type thread struct {
	messages []chat.Message
	ids      map[uuid.UUID]int // id -> position in messages, rebuilt on insert
	loaded   bool
	oldest   int // highest page merged so far
	hasMore  bool
}

func newThread() *thread {
	return &thread{ids: make(map[uuid.UUID]int)}
}

// merge inserts msg unless its id is already cached. A cached copy only ever moves
// forward in status. It reports whether the thread changed.
func (t *thread) merge(msg chat.Message) bool {
	if i, ok := t.ids[msg.ID]; ok {
		return upgradeStatus(&t.messages[i], msg)
	}

	i := sort.Search(len(t.messages), func(i int) bool { return msg.Before(t.messages[i]) })
	t.messages = append(t.messages, chat.Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = msg
	for j := i; j < len(t.messages); j++ {
		t.ids[t.messages[j].ID] = j
	}
	return true
}

func (t *thread) contains(id uuid.UUID) bool {
	_, ok := t.ids[id]
	return ok
}

// countAfter counts other people's messages newer than cursor. ok is false when the
// cached history may not reach back to cursor.
func (t *thread) countAfter(cursor time.Time, self uuid.UUID) (n int, ok bool) {
	if len(t.messages) == 0 {
		return 0, t.loaded && !t.hasMore
	}
	if t.messages[0].CreatedAt.After(cursor) && t.hasMore {
		return 0, false
	}
	for _, m := range t.messages {
		if m.CreatedAt.After(cursor) && m.SenderID != self && !m.IsDeleted {
			n++
		}
	}
	return n, true
}

// upgradeStatus copies delivery and read stamps from incoming onto cached. Stamps are
// never cleared.
func upgradeStatus(cached *chat.Message, incoming chat.Message) bool {
	changed := false
	if cached.DeliveredAt == nil && incoming.DeliveredAt != nil {
		cached.DeliveredAt = incoming.DeliveredAt
		changed = true
	}
	if cached.ReadAt == nil && incoming.ReadAt != nil {
		cached.ReadAt = incoming.ReadAt
		if cached.DeliveredAt == nil {
			cached.DeliveredAt = incoming.ReadAt
		}
		changed = true
	}
	return changed
}

// summary is one entry of the conversation list with live unread arithmetic:
// unread = baseUnread (server count at load, for messages up to baseline) + len(pushed).
type summary struct {
	conv         chat.Conversation
	participants []chat.Participant
	last         *chat.Message
	cursor       time.Time // the session user's last_read_at as last seen

	baseline   *chat.Message // last message when the server count was taken
	baseUnread int
	pushed     map[uuid.UUID]time.Time // messages counted since then
	stale      bool                    // count could not be reconciled locally
}

func newSummary(conv chat.Conversation) *summary {
	return &summary{conv: conv, pushed: make(map[uuid.UUID]time.Time)}
}

func (s *summary) unread() int {
	return s.baseUnread + len(s.pushed)
}

// observe records a message newer than the baseline. It returns true when it raised
// the unread count.
func (s *summary) observe(msg chat.Message, self uuid.UUID, countUnread bool) bool {
	s.touch(msg)
	if !countUnread || msg.SenderID == self || msg.IsDeleted {
		return false
	}
	if s.baseline != nil && !s.baseline.Before(msg) {
		return false // already part of the server count
	}
	if !msg.CreatedAt.After(s.cursor) {
		return false
	}
	if _, ok := s.pushed[msg.ID]; ok {
		return false
	}
	s.pushed[msg.ID] = msg.CreatedAt
	return true
}

func (s *summary) touch(msg chat.Message) {
	if s.last == nil || s.last.Before(msg) {
		cp := msg
		s.last = &cp
		s.conv.LastMessageAt = &cp.CreatedAt
		s.conv.LastMessageID = &cp.ID
		return
	}
	if s.last.ID == msg.ID {
		upgradeStatus(s.last, msg)
	}
}

// advance moves the read cursor forward and drops everything it passed. th may be nil.
func (s *summary) advance(cursor time.Time, self uuid.UUID, th *thread) {
	if !cursor.After(s.cursor) {
		return
	}
	s.cursor = cursor
	for id, at := range s.pushed {
		if !at.After(cursor) {
			delete(s.pushed, id)
		}
	}
	if s.baseUnread == 0 || s.baseline == nil {
		return
	}
	if !s.baseline.CreatedAt.After(cursor) {
		s.baseUnread = 0
		return
	}
	if th == nil || !th.contains(s.baseline.ID) {
		s.stale = true
		return
	}
	n, ok := th.countAfter(cursor, self)
	if !ok {
		s.stale = true
		return
	}
	// Pushed messages are in the thread too; count only those up to the baseline.
	for id := range s.pushed {
		if th.contains(id) {
			n--
		}
	}
	s.baseUnread = max(n, 0)
}

func (s *summary) lastActivity() time.Time {
	if s.last != nil {
		return s.last.CreatedAt
	}
	return s.conv.UpdatedAt
}

// state is owned by the Store goroutine.
type state struct {
	self      uuid.UUID
	active    uuid.UUID
	summaries map[uuid.UUID]*summary
	threads   map[uuid.UUID]*thread
	pending   map[uuid.UUID]*PendingSend
	peerRead  map[uuid.UUID]time.Time // conversation -> newest cursor of any other participant
}

func newState(self uuid.UUID) *state {
	return &state{
		self:      self,
		summaries: make(map[uuid.UUID]*summary),
		threads:   make(map[uuid.UUID]*thread),
		pending:   make(map[uuid.UUID]*PendingSend),
		peerRead:  make(map[uuid.UUID]time.Time),
	}
}

func (s *state) thread(id uuid.UUID) *thread {
	th, ok := s.threads[id]
	if !ok {
		th = newThread()
		s.threads[id] = th
	}
	return th
}

func (s *state) summary(conv chat.Conversation) *summary {
	sm, ok := s.summaries[conv.ID]
	if !ok {
		sm = newSummary(conv)
		s.summaries[conv.ID] = sm
	}
	return sm
}

// mergeMessage puts a confirmed message into the thread cache, applying any peer read
// cursor that already passed it.
func (s *state) mergeMessage(th *thread, msg chat.Message) bool {
	if msg.SenderID == s.self && msg.ReadAt == nil {
		if peer, ok := s.peerRead[msg.ConversationID]; ok && !msg.CreatedAt.After(peer) {
			readAt := peer
			msg.ReadAt = &readAt
			if msg.DeliveredAt == nil {
				msg.DeliveredAt = &readAt
			}
		}
	}
	return th.merge(msg)
}

// peerReadAdvanced upgrades the session user's messages passed by another reader.
func (s *state) peerReadAdvanced(conversationID uuid.UUID, at time.Time) {
	if prev, ok := s.peerRead[conversationID]; !ok || at.After(prev) {
		s.peerRead[conversationID] = at
	}
	readAt := at
	mark := func(m *chat.Message) {
		if m.SenderID == s.self && m.ReadAt == nil && !m.CreatedAt.After(at) {
			m.ReadAt = &readAt
			if m.DeliveredAt == nil {
				m.DeliveredAt = &readAt
			}
		}
	}
	if th, ok := s.threads[conversationID]; ok {
		for i := range th.messages {
			mark(&th.messages[i])
		}
	}
	if sm, ok := s.summaries[conversationID]; ok && sm.last != nil {
		mark(sm.last)
	}
}
