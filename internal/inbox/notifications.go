//go:generate go run go.uber.org/mock/mockgen -source=notifications.go -destination=mocks/mock_notification_api.go -package=mocks
package inbox

import (
	"context"
	"slices"
	"sync"

	"go-foodie/internal/notification"
	"go-foodie/internal/realtime"

	"github.com/google/uuid"
)

type NotificationAPI interface {
	ListNotifications(ctx context.Context, limit, offset int, unreadOnly bool) (*notification.ListResult, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID, read bool) (*notification.Notification, error)
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id uuid.UUID) error
}

type NotificationsView struct {
	Items       []notification.Notification // newest first
	UnreadCount int
	HasMore     bool
	Loaded      bool
}

// Notifications caches the session user's notifications. Writes update local state
// first; a failed server call is returned to the caller and left for the next Load to
// reconcile.
type Notifications struct {
	api      NotificationAPI
	pageSize int

	mu      sync.Mutex
	items   []notification.Notification
	unread  int
	hasMore bool
	loaded  bool

	changes chan struct{}
}

func NewNotifications(api NotificationAPI, pageSize int) *Notifications {
	if pageSize <= 0 {
		pageSize = notification.DefaultPageSize
	}
	return &Notifications{
		api:      api,
		pageSize: pageSize,
		changes:  make(chan struct{}, 1),
	}
}

// Load replaces the cache with the first page from the server.
func (n *Notifications) Load(ctx context.Context) error {
	res, err := n.api.ListNotifications(ctx, n.pageSize, 0, false)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.items = n.items[:0]
	for _, item := range res.Notifications {
		n.insert(item)
	}
	n.unread = res.UnreadCount
	n.hasMore = res.HasMore
	n.loaded = true
	n.mu.Unlock()

	n.notify()
	return nil
}

// LoadMore appends the next page. Items pushed since the last load shift the server
// offset, which only yields duplicates.
func (n *Notifications) LoadMore(ctx context.Context) error {
	n.mu.Lock()
	offset, more := len(n.items), n.hasMore
	n.mu.Unlock()
	if !more {
		return nil
	}

	res, err := n.api.ListNotifications(ctx, n.pageSize, offset, false)
	if err != nil {
		return err
	}

	n.mu.Lock()
	for _, item := range res.Notifications {
		n.insert(item)
	}
	n.hasMore = res.HasMore
	n.mu.Unlock()

	n.notify()
	return nil
}

// Apply folds one event from the personal notifications channel into the cache.
func (n *Notifications) Apply(evt realtime.Event) {
	changed := false

	switch evt.Type {
	case realtime.EventNewNotification:
		var item notification.Notification
		if err := evt.Decode(&item); err != nil || item.ID == uuid.Nil {
			return
		}
		n.mu.Lock()
		if n.insert(item) && !item.Read {
			n.unread++
		}
		n.mu.Unlock()
		changed = true

	case realtime.EventNotificationRead:
		var change notification.Change
		if err := evt.Decode(&change); err != nil {
			return
		}
		n.mu.Lock()
		switch {
		case change.All:
			changed = n.setAllRead()
		case change.NotificationID != nil:
			changed = n.setRead(*change.NotificationID, change.Read)
		}
		changed = n.adoptUnread(change.UnreadCount) || changed
		n.mu.Unlock()

	case realtime.EventNotificationDeleted:
		var change notification.Change
		if err := evt.Decode(&change); err != nil || change.NotificationID == nil {
			return
		}
		n.mu.Lock()
		changed = n.remove(*change.NotificationID)
		changed = n.adoptUnread(change.UnreadCount) || changed
		n.mu.Unlock()
	}

	if changed {
		n.notify()
	}
}

func (n *Notifications) MarkRead(ctx context.Context, id uuid.UUID) error {
	n.mu.Lock()
	changed := n.setRead(id, true)
	n.mu.Unlock()
	if changed {
		n.notify()
	}

	_, err := n.api.MarkNotificationRead(ctx, id, true)
	return err
}

func (n *Notifications) MarkAllRead(ctx context.Context) error {
	n.mu.Lock()
	changed := n.setAllRead()
	n.mu.Unlock()
	if changed {
		n.notify()
	}

	return n.api.MarkAllNotificationsRead(ctx)
}

func (n *Notifications) Delete(ctx context.Context, id uuid.UUID) error {
	n.mu.Lock()
	changed := n.remove(id)
	n.mu.Unlock()
	if changed {
		n.notify()
	}

	return n.api.DeleteNotification(ctx, id)
}

func (n *Notifications) Snapshot() NotificationsView {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NotificationsView{
		Items:       slices.Clone(n.items),
		UnreadCount: n.unread,
		HasMore:     n.hasMore,
		Loaded:      n.loaded,
	}
}

// Changes signals (coalesced) that the snapshot changed.
func (n *Notifications) Changes() <-chan struct{} {
	return n.changes
}

func (n *Notifications) notify() {
	select {
	case n.changes <- struct{}{}:
	default:
	}
}

func (n *Notifications) index(id uuid.UUID) int {
	return slices.IndexFunc(n.items, func(item notification.Notification) bool { return item.ID == id })
}

// insert keeps items newest first and ignores ids already cached. Caller holds mu.
func (n *Notifications) insert(item notification.Notification) bool {
	if n.index(item.ID) >= 0 {
		return false
	}
	i, _ := slices.BinarySearchFunc(n.items, item, func(a, b notification.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	n.items = slices.Insert(n.items, i, item)
	return true
}

func (n *Notifications) setRead(id uuid.UUID, read bool) bool {
	i := n.index(id)
	if i < 0 || n.items[i].Read == read {
		return false
	}
	n.items[i].Read = read
	if read {
		n.unread = max(n.unread-1, 0)
	} else {
		n.unread++
	}
	return true
}

func (n *Notifications) setAllRead() bool {
	if n.unread == 0 && !slices.ContainsFunc(n.items, func(item notification.Notification) bool { return !item.Read }) {
		return false
	}
	for i := range n.items {
		n.items[i].Read = true
	}
	n.unread = 0
	return true
}

// adoptUnread takes the server's total when the event carries one. Items outside the
// cached page change it too.
func (n *Notifications) adoptUnread(unread *int) bool {
	if unread == nil || *unread == n.unread {
		return false
	}
	n.unread = max(*unread, 0)
	return true
}

func (n *Notifications) remove(id uuid.UUID) bool {
	i := n.index(id)
	if i < 0 {
		return false
	}
	if !n.items[i].Read {
		n.unread = max(n.unread-1, 0)
	}
	n.items = slices.Delete(n.items, i, i+1)
	return true
}
