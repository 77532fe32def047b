package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-foodie/internal/inbox/mocks"
	"go-foodie/internal/notification"
	"go-foodie/internal/realtime"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func note(offset time.Duration, read bool) notification.Notification {
	return notification.Notification{
		ID:          uuid.New(),
		RecipientID: uuid.New(),
		Type:        notification.TypeLike,
		Payload:     []byte(`{}`),
		Read:        read,
		CreatedAt:   epoch.Add(offset),
	}
}

func event(t *testing.T, eventType string, data any) realtime.Event {
	t.Helper()
	evt, err := realtime.NewEvent(eventType, "", data)
	require.NoError(t, err)
	return evt
}

func loadedNotifications(t *testing.T, items ...notification.Notification) (*Notifications, *mocks.MockNotificationAPI) {
	t.Helper()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockNotificationAPI(ctrl)

	unread := 0
	for _, item := range items {
		if !item.Read {
			unread++
		}
	}
	api.EXPECT().ListNotifications(gomock.Any(), 2, 0, false).
		Return(&notification.ListResult{Notifications: items, UnreadCount: unread + 3, HasMore: true}, nil)

	n := NewNotifications(api, 2)
	require.NoError(t, n.Load(context.Background()))
	return n, api
}

func TestNotifications_LoadAndLoadMore(t *testing.T) {
	req := require.New(t)
	newest, older, oldest := note(3*time.Second, false), note(2*time.Second, true), note(time.Second, false)
	n, api := loadedNotifications(t, newest, older)

	view := n.Snapshot()
	req.True(view.Loaded)
	req.True(view.HasMore)
	req.Equal(4, view.UnreadCount)
	req.Equal([]uuid.UUID{newest.ID, older.ID}, notificationIDs(view.Items))

	api.EXPECT().ListNotifications(gomock.Any(), 2, 2, false).
		Return(&notification.ListResult{Notifications: []notification.Notification{older, oldest}, UnreadCount: 4}, nil)
	req.NoError(n.LoadMore(context.Background()))

	view = n.Snapshot()
	req.False(view.HasMore)
	req.Equal([]uuid.UUID{newest.ID, older.ID, oldest.ID}, notificationIDs(view.Items))

	// Nothing left to fetch.
	req.NoError(n.LoadMore(context.Background()))
}

func TestNotifications_ApplyPushes(t *testing.T) {
	req := require.New(t)
	first := note(time.Second, false)
	n, _ := loadedNotifications(t, first)
	start := n.Snapshot().UnreadCount

	fresh := note(time.Minute, false)
	n.Apply(event(t, realtime.EventNewNotification, fresh))
	n.Apply(event(t, realtime.EventNewNotification, fresh))
	view := n.Snapshot()
	req.Equal(start+1, view.UnreadCount)
	req.Equal(fresh.ID, view.Items[0].ID)

	n.Apply(event(t, realtime.EventNotificationRead, notification.Change{NotificationID: &fresh.ID, Read: true}))
	n.Apply(event(t, realtime.EventNotificationRead, notification.Change{NotificationID: &fresh.ID, Read: true}))
	req.Equal(start, n.Snapshot().UnreadCount)

	n.Apply(event(t, realtime.EventNotificationDeleted, notification.Change{NotificationID: &first.ID}))
	view = n.Snapshot()
	req.Equal(start-1, view.UnreadCount)
	req.Len(view.Items, 1)

	n.Apply(event(t, realtime.EventNotificationRead, notification.Change{All: true, Read: true}))
	req.Zero(n.Snapshot().UnreadCount)
}

func TestNotifications_RemoteChangesOutsideCachedPage(t *testing.T) {
	req := require.New(t)
	cached := note(time.Second, false)
	n, _ := loadedNotifications(t, cached)
	req.Equal(4, n.Snapshot().UnreadCount)

	// Another session reads, then deletes, unread items this cache never loaded.
	uncachedRead, uncachedDeleted := uuid.New(), uuid.New()
	n.Apply(event(t, realtime.EventNotificationRead, notification.Change{NotificationID: &uncachedRead, Read: true, UnreadCount: lo.ToPtr(3)}))
	req.Equal(3, n.Snapshot().UnreadCount)
	n.Apply(event(t, realtime.EventNotificationDeleted, notification.Change{NotificationID: &uncachedDeleted, UnreadCount: lo.ToPtr(2)}))

	view := n.Snapshot()
	req.Equal(2, view.UnreadCount)
	req.Equal([]uuid.UUID{cached.ID}, notificationIDs(view.Items))
	req.False(view.Items[0].Read)

	// Events without a total fall back to local bookkeeping.
	n.Apply(event(t, realtime.EventNotificationRead, notification.Change{NotificationID: &cached.ID, Read: true}))
	req.Equal(1, n.Snapshot().UnreadCount)

	// The echo of a local write agrees with the local count.
	n.Apply(event(t, realtime.EventNotificationRead, notification.Change{NotificationID: &cached.ID, Read: true, UnreadCount: lo.ToPtr(1)}))
	req.Equal(1, n.Snapshot().UnreadCount)
}

func TestNotifications_OptimisticWrites(t *testing.T) {
	req := require.New(t)
	a, b := note(2*time.Second, false), note(time.Second, false)
	n, api := loadedNotifications(t, a, b)

	api.EXPECT().MarkNotificationRead(gomock.Any(), a.ID, true).Return(&a, nil)
	req.NoError(n.MarkRead(context.Background(), a.ID))
	view := n.Snapshot()
	req.True(view.Items[0].Read)
	req.Equal(4, view.UnreadCount)

	api.EXPECT().DeleteNotification(gomock.Any(), b.ID).Return(nil)
	req.NoError(n.Delete(context.Background(), b.ID))
	req.Equal(3, n.Snapshot().UnreadCount)

	api.EXPECT().MarkAllNotificationsRead(gomock.Any()).Return(nil)
	req.NoError(n.MarkAllRead(context.Background()))
	req.Zero(n.Snapshot().UnreadCount)
}

func TestNotifications_FailedWriteKeepsLocalState(t *testing.T) {
	req := require.New(t)
	a := note(time.Second, false)
	n, api := loadedNotifications(t, a)

	boom := errors.New("gateway unavailable")
	api.EXPECT().MarkNotificationRead(gomock.Any(), a.ID, true).Return(nil, boom)
	req.ErrorIs(n.MarkRead(context.Background(), a.ID), boom)

	view := n.Snapshot()
	req.True(view.Items[0].Read)
	req.Equal(3, view.UnreadCount)
}

func notificationIDs(items []notification.Notification) []uuid.UUID {
	out := make([]uuid.UUID, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
