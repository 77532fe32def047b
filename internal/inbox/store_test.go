package inbox

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"go-foodie/internal/chat"
	"go-foodie/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func startStore(t *testing.T, self uuid.UUID) *Store {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := NewStore(self)
	go store.Run(ctx)
	return store
}

func message(conv, sender uuid.UUID, offset time.Duration) chat.Message {
	at := epoch.Add(offset)
	return chat.Message{
		ID:             uuid.New(),
		ConversationID: conv,
		SenderID:       sender,
		Content:        "hello",
		Type:           chat.TypeText,
		CreatedAt:      at,
		DeliveredAt:    &at,
	}
}

func push(t *testing.T, eventType string, data any) PushReceived {
	t.Helper()
	evt, err := realtime.NewEvent(eventType, "", data)
	require.NoError(t, err)
	return PushReceived{Event: evt}
}

func loadList(store *Store, conv, other uuid.UUID, unread int, last *chat.Message) {
	store.Dispatch(ConversationsLoaded{Summaries: []chat.ConversationSummary{{
		Conversation: chat.Conversation{ID: conv, CreatedAt: epoch, UpdatedAt: epoch},
		Participants: []chat.Participant{{ConversationID: conv, UserID: other, IsActive: true}},
		LastMessage:  last,
		UnreadCount:  unread,
		LastReadAt:   epoch.Add(-time.Hour),
	}}})
}

func ids(messages []chat.Message) []uuid.UUID {
	out := make([]uuid.UUID, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func requireSorted(t *testing.T, messages []chat.Message) {
	t.Helper()
	for i := 1; i < len(messages); i++ {
		require.True(t, messages[i-1].Before(messages[i]), "position %d out of order", i)
	}
}

func TestStore_MergeIsIdempotentAndOrdered(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)
	loadList(store, conv, other, 0, nil)
	store.Dispatch(ConversationActivated{ID: conv})

	var all []chat.Message
	for i := range 30 {
		all = append(all, message(conv, other, time.Duration(i/3)*time.Second)) // timestamp ties
	}

	rng := rand.New(rand.NewSource(7))
	for round := range 3 {
		for _, i := range rng.Perm(len(all)) {
			if (i+round)%2 == 0 {
				store.Dispatch(push(t, realtime.EventNewMessage, all[i]))
			} else {
				store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{
					Messages: []chat.Message{all[i]}, Page: 1, HasMore: false,
				}})
			}
		}
	}

	th, ok := store.View().ActiveThread()
	req.True(ok)
	req.Len(th.Messages, len(all))
	requireSorted(t, th.Messages)
	req.ElementsMatch(ids(all), ids(th.Messages))
}

func TestStore_PaginationPrependsOlderPages(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)

	var all []chat.Message
	for i := range 25 {
		all = append(all, message(conv, other, time.Duration(i)*time.Second))
	}
	loadList(store, conv, other, 25, &all[24])
	store.Dispatch(ConversationActivated{ID: conv})

	store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{
		Messages: all[5:], Page: 1, HasMore: true, LastReadAt: all[24].CreatedAt,
	}})
	view := store.View()
	th, _ := view.ActiveThread()
	req.Len(th.Messages, 20)
	req.True(th.HasMore)
	summary, _ := view.Conversation(conv)
	req.Zero(summary.UnreadCount)

	store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{
		Messages: all[:5], Page: 2, HasMore: false, LastReadAt: all[24].CreatedAt,
	}})
	th, _ = store.View().ActiveThread()
	req.Len(th.Messages, 25)
	req.False(th.HasMore)
	req.Equal(2, th.PagesLoaded)
	req.Equal(ids(all), ids(th.Messages))

	// A later refresh of page 1 does not reopen older history.
	store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{
		Messages: all[5:], Page: 1, HasMore: true, LastReadAt: all[24].CreatedAt,
	}})
	th, _ = store.View().ActiveThread()
	req.False(th.HasMore)
	req.Len(th.Messages, 25)
}

func TestStore_PushForInactiveConversationUpdatesSummaryOnly(t *testing.T) {
	req := require.New(t)
	self, other, conv, elsewhere := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)
	loadList(store, conv, other, 0, nil)
	store.Dispatch(ConversationActivated{ID: elsewhere})

	msg := message(conv, other, time.Second)
	// Delivered on both the conversation channel and the personal channel.
	store.Dispatch(push(t, realtime.EventNewMessage, msg))
	store.Dispatch(push(t, realtime.EventNewMessage, msg))
	store.Dispatch(push(t, realtime.EventNewMessage, message(conv, self, 2*time.Second)))

	view := store.View()
	summary, ok := view.Conversation(conv)
	req.True(ok)
	req.Equal(1, summary.UnreadCount)
	req.Equal(1, view.TotalUnread)
	req.Equal(self, summary.LastMessage.SenderID)
	_, cached := view.Threads[conv]
	req.False(cached)
}

func TestStore_ActiveConversationTakesLiveMessages(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)
	loadList(store, conv, other, 0, nil)
	store.Dispatch(ConversationActivated{ID: conv})
	store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{Page: 1, LastReadAt: epoch}})

	msg := message(conv, other, time.Second)
	store.Dispatch(push(t, realtime.EventNewMessage, msg))

	view := store.View()
	th, _ := view.ActiveThread()
	req.Equal([]uuid.UUID{msg.ID}, ids(th.Messages))
	summary, _ := view.Conversation(conv)
	req.Equal(msg.ID, summary.LastMessage.ID)
}

func TestStore_UnknownConversationAsksForRefresh(t *testing.T) {
	req := require.New(t)
	self := uuid.New()
	store := startStore(t, self)

	msg := message(uuid.New(), uuid.New(), time.Second)
	effect := store.Dispatch(push(t, realtime.EventNewMessage, msg))
	req.True(effect.RefreshList)
	req.Equal(1, store.View().TotalUnread)
}

func TestStore_ReloadKeepsPushesNewerThanSnapshot(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)

	first := message(conv, other, time.Second)
	loadList(store, conv, other, 1, &first)

	second := message(conv, other, 2*time.Second)
	store.Dispatch(push(t, realtime.EventNewMessage, second))
	summary, _ := store.View().Conversation(conv)
	req.Equal(2, summary.UnreadCount)

	// A list fetched before the second message arrived must not lose it.
	loadList(store, conv, other, 1, &first)
	summary, _ = store.View().Conversation(conv)
	req.Equal(2, summary.UnreadCount)
	req.Equal(second.ID, summary.LastMessage.ID)

	// A list that already counts it must not count it twice.
	loadList(store, conv, other, 2, &second)
	summary, _ = store.View().Conversation(conv)
	req.Equal(2, summary.UnreadCount)
}

func TestStore_ReadAdvanced(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)

	first := message(conv, other, time.Second)
	loadList(store, conv, other, 1, &first)
	later := message(conv, other, 3*time.Second)
	store.Dispatch(push(t, realtime.EventNewMessage, later))

	store.Dispatch(ReadAdvanced{ConversationID: conv, LastReadAt: epoch.Add(2 * time.Second)})
	summary, _ := store.View().Conversation(conv)
	req.Equal(1, summary.UnreadCount)

	// The cursor never moves back.
	store.Dispatch(ReadAdvanced{ConversationID: conv, LastReadAt: epoch})
	summary, _ = store.View().Conversation(conv)
	req.Equal(1, summary.UnreadCount)

	// Another session of the same user read everything.
	store.Dispatch(push(t, realtime.EventMessageRead, chat.Receipt{
		ConversationID: conv, ReaderID: self, LastReadAt: epoch.Add(time.Minute),
	}))
	summary, _ = store.View().Conversation(conv)
	req.Zero(summary.UnreadCount)
}

func TestStore_PeerReceiptUpgradesStatus(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)
	loadList(store, conv, other, 0, nil)
	store.Dispatch(ConversationActivated{ID: conv})

	mine := message(conv, self, time.Second)
	store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{Messages: []chat.Message{mine}, Page: 1}})
	th, _ := store.View().ActiveThread()
	req.Equal(chat.StatusDelivered, th.Messages[0].Status())

	store.Dispatch(push(t, realtime.EventMessageRead, chat.Receipt{
		ConversationID: conv, ReaderID: other, LastReadAt: epoch.Add(5 * time.Second),
	}))
	view := store.View()
	th, _ = view.ActiveThread()
	req.Equal(chat.StatusRead, th.Messages[0].Status())
	summary, _ := view.Conversation(conv)
	req.Equal(chat.StatusRead, summary.LastMessage.Status())

	// A stale copy from the server does not roll the status back.
	store.Dispatch(push(t, realtime.EventNewMessage, mine))
	th, _ = store.View().ActiveThread()
	req.Equal(chat.StatusRead, th.Messages[0].Status())

	// A receipt that overtook the message still applies once it lands.
	early := message(conv, self, 4*time.Second)
	store.Dispatch(push(t, realtime.EventNewMessage, early))
	th, _ = store.View().ActiveThread()
	req.Equal(chat.StatusRead, th.Messages[1].Status())
}

func TestStore_SendLifecycle(t *testing.T) {
	req := require.New(t)
	self, other, conv := uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)
	loadList(store, conv, other, 0, nil)
	store.Dispatch(ConversationActivated{ID: conv})
	store.Dispatch(PageFetched{ConversationID: conv, Page: chat.MessagePage{Page: 1}})

	tempID := uuid.New()
	store.Dispatch(SendStarted{Pending: PendingSend{TempID: tempID, ConversationID: conv, Content: "hi", StartedAt: epoch}})
	view := store.View()
	req.Len(view.Pending, 1)
	th, _ := view.ActiveThread()
	req.Empty(th.Messages)

	confirmed := message(conv, self, time.Second)
	// The push echo beats the HTTP response.
	store.Dispatch(push(t, realtime.EventNewMessage, confirmed))
	store.Dispatch(SendConfirmed{TempID: tempID, Message: confirmed})

	view = store.View()
	req.Empty(view.Pending)
	th, _ = view.ActiveThread()
	req.Equal([]uuid.UUID{confirmed.ID}, ids(th.Messages))
	req.Zero(view.TotalUnread)

	failedID := uuid.New()
	store.Dispatch(SendStarted{Pending: PendingSend{TempID: failedID, ConversationID: conv, Content: "lost", StartedAt: epoch}})
	store.Dispatch(SendFailed{TempID: failedID, Err: errors.New("network down")})
	view = store.View()
	req.Len(view.Pending, 1)
	req.True(view.Pending[0].Failed())

	store.Dispatch(SendDismissed{TempID: failedID})
	req.Empty(store.View().Pending)
}

func TestStore_DropsPagesForInactiveConversation(t *testing.T) {
	req := require.New(t)
	self, other, first, second := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	store := startStore(t, self)
	loadList(store, first, other, 0, nil)
	store.Dispatch(ConversationActivated{ID: first})
	store.Dispatch(ConversationActivated{ID: second})

	effect := store.Dispatch(PageFetched{ConversationID: first, Page: chat.MessagePage{
		Messages: []chat.Message{message(first, other, time.Second)}, Page: 1,
	}})
	req.False(effect.Changed)
	_, cached := store.View().Threads[first]
	req.False(cached)
}
