package inbox_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"go-foodie/internal/chat"
	"go-foodie/internal/client"
	"go-foodie/internal/config"
	"go-foodie/internal/inbox"
	"go-foodie/internal/notification"
	"go-foodie/internal/server"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		StoreDriver:     config.DriverMemory,
		JWTSecret:       "test-secret",
		TokenTTL:        time.Hour,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	}
	ctx, cancel := context.WithCancel(context.Background())
	app, err := server.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))

	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = app.Close()
	})
	return srv
}

func login(t *testing.T, srv *httptest.Server, username string) *client.API {
	t.Helper()
	ctx := context.Background()
	api := client.New(srv.URL, srv.Client())
	_, err := api.Register(ctx, username, "secret123")
	require.NoError(t, err)
	_, err = api.Login(ctx, username, "secret123")
	require.NoError(t, err)
	return api
}

func open(t *testing.T, api *client.API) *inbox.Session {
	t.Helper()
	s, err := inbox.Start(context.Background(), api, inbox.Options{Dwell: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func unread(s *inbox.Session, conv uuid.UUID) int {
	c, ok := s.Store().View().Conversation(conv)
	if !ok {
		return -1
	}
	return c.UnreadCount
}

func TestSession_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	srv := startServer(t)

	aliceAPI, bobAPI := login(t, srv, "alice"), login(t, srv, "bobby")
	alice, bob := open(t, aliceAPI), open(t, bobAPI)

	// A sends "Hi" to B: B's unread for the conversation becomes 1.
	hi, err := alice.SendTo(ctx, bob.Self(), "Hi")
	req.NoError(err)
	conv := hi.ConversationID
	req.Eventually(func() bool { return unread(bob, conv) == 1 }, waitFor, 10*time.Millisecond)
	req.Eventually(func() bool { return bob.Store().View().TotalUnread == 1 }, waitFor, 10*time.Millisecond)
	req.Zero(unread(alice, conv))

	// B opens it: unread drops to 0 and A sees the message as read.
	req.NoError(alice.Activate(ctx, conv))
	req.NoError(bob.Activate(ctx, conv))
	req.Zero(unread(bob, conv))

	req.Eventually(func() bool {
		th, ok := alice.Store().View().ActiveThread()
		return ok && len(th.Messages) == 1 && th.Messages[0].Status() == chat.StatusRead
	}, waitFor, 10*time.Millisecond)

	// 24 more messages reach B's open thread live, none counted unread.
	for i := 1; i < 25; i++ {
		_, err := alice.Send(ctx, fmt.Sprintf("message %d", i))
		req.NoError(err)
	}
	req.Eventually(func() bool {
		th, _ := bob.Store().View().ActiveThread()
		return len(th.Messages) == 25
	}, waitFor, 10*time.Millisecond)
	req.Zero(unread(bob, conv))

	aliceView := alice.Store().View()
	aliceThread, _ := aliceView.ActiveThread()
	req.Len(aliceThread.Messages, 25)
	req.Empty(aliceView.Pending)

	// B looks at the latest message; the tracker marks it read for A.
	bobThread, _ := bob.Store().View().ActiveThread()
	last := bobThread.Messages[24]
	bob.MessageVisible(last)
	req.Eventually(func() bool {
		th, _ := alice.Store().View().ActiveThread()
		return th.Messages[24].ID == last.ID && th.Messages[24].Status() == chat.StatusRead
	}, waitFor, 10*time.Millisecond)

	// A second session for B pages through history: 20 then 5, in order.
	second := open(t, bobAPI)
	req.NoError(second.Activate(ctx, conv))
	th, ok := second.Store().View().ActiveThread()
	req.True(ok)
	req.Len(th.Messages, 20)
	req.True(th.HasMore)

	req.NoError(second.LoadOlder(ctx))
	th, _ = second.Store().View().ActiveThread()
	req.Len(th.Messages, 25)
	req.False(th.HasMore)
	req.Equal(hi.ID, th.Messages[0].ID)
	for i := 1; i < len(th.Messages); i++ {
		req.True(th.Messages[i-1].Before(th.Messages[i]))
		req.Equal(fmt.Sprintf("message %d", i), th.Messages[i].Content)
	}
	req.Zero(second.Store().View().TotalUnread)
}

func TestSession_SendFailureStaysPending(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	srv := startServer(t)

	alice := open(t, login(t, srv, "alice"))

	_, err := alice.SendTo(ctx, uuid.New(), "anyone there?")
	req.Error(err)

	view := alice.Store().View()
	req.Len(view.Pending, 1)
	req.True(view.Pending[0].Failed())
	req.Empty(view.Conversations)

	_, err = alice.Retry(ctx, view.Pending[0].TempID)
	req.Error(err)
	req.Len(alice.Store().View().Pending, 1)
}

func TestSession_Notifications(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	srv := startServer(t)

	aliceAPI, bobAPI := login(t, srv, "alice"), login(t, srv, "bobby")
	bob := open(t, bobAPI)

	created, err := aliceAPI.CreateNotification(ctx, notification.CreateRequest{
		RecipientID: bob.Self(),
		Type:        notification.TypeFollow,
	})
	req.NoError(err)
	req.NotNil(created)

	notes := bob.Notifications()
	req.Eventually(func() bool { return notes.Snapshot().UnreadCount == 1 }, waitFor, 10*time.Millisecond)
	req.Equal(created.ID, notes.Snapshot().Items[0].ID)

	req.NoError(notes.MarkRead(ctx, created.ID))
	req.Zero(notes.Snapshot().UnreadCount)

	req.NoError(notes.Delete(ctx, created.ID))
	req.Empty(notes.Snapshot().Items)

	req.NoError(notes.Load(ctx))
	view := notes.Snapshot()
	req.Empty(view.Items)
	req.Zero(view.UnreadCount)
}
