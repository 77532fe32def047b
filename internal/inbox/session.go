package inbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"go-foodie/internal/apperr"
	"go-foodie/internal/chat"
	"go-foodie/internal/client"
	"go-foodie/internal/realtime"
	"go-foodie/internal/receipts"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	errBuffer      = 16
	releaseTimeout = 5 * time.Second
)

type Options struct {
	PageSize int           // history page size, server default when zero
	Dwell    time.Duration // read-receipt dwell, receipts.DefaultDwell when zero
	Logger   *zap.Logger
}

// Session is one logged-in user's live view: a push connection, the conversation
// cache, the notification cache and the read tracker.
type Session struct {
	self     uuid.UUID
	api      *client.API
	push     *client.PushConn
	subs     *subscriptions
	store    *Store
	notes    *Notifications
	tracker  *receipts.Tracker
	log      *zap.Logger
	pageSize int

	errs    chan error
	refresh chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	active      uuid.UUID
	fetchCancel context.CancelFunc
	closed      bool
}

// Start opens the push channel for the logged-in user of api and loads the first
// view of conversations and notifications.
func Start(ctx context.Context, api *client.API, opts Options) (*Session, error) {
	self := api.UserID()
	if self == uuid.Nil {
		return nil, apperr.Unauthorized("not logged in", nil)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	push, err := client.Dial(ctx, api.BaseURL(), api.Token())
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		self:     self,
		api:      api,
		push:     push,
		subs:     newSubscriptions(push),
		store:    NewStore(self),
		notes:    NewNotifications(api, 0),
		log:      log.Named("inbox").With(zap.String("user_id", self.String())),
		pageSize: opts.PageSize,
		errs:     make(chan error, errBuffer),
		refresh:  make(chan struct{}, 1),
		cancel:   cancel,
	}
	s.tracker = receipts.NewTracker(api, log, receipts.Options{
		Dwell: opts.Dwell,
		OnMarked: func(r chat.Receipt) {
			s.apply(ReadAdvanced{ConversationID: r.ConversationID, LastReadAt: r.LastReadAt})
		},
		OnError: func(_ uuid.UUID, err error) { s.report(err) },
	})

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.store.Run(runCtx)
	}()
	go s.pumpEvents(runCtx)
	go s.refreshLoop(runCtx)

	// Subscribe before loading so nothing published in between is missed.
	for _, channel := range []string{realtime.UserMessagesChannel(self), realtime.UserNotificationsChannel(self)} {
		if err := s.subs.acquire(ctx, channel); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.reloadConversations(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.notes.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) Self() uuid.UUID {
	return s.self
}

func (s *Session) Store() *Store {
	return s.store
}

func (s *Session) Notifications() *Notifications {
	return s.notes
}

// Errors carries failures from background work: lost push connection, failed
// read marks, failed list refreshes. Errors are dropped when nobody drains it.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Activate opens a conversation: its channel replaces the previous conversation's
// subscription and its first page is fetched unless the cached thread is current.
func (s *Session) Activate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	prev := s.active
	s.active = id
	fetchCtx, cancel := context.WithCancel(ctx)
	s.fetchCancel = cancel
	s.mu.Unlock()

	if prev != uuid.Nil && prev != id {
		if err := s.subs.release(ctx, realtime.ConversationChannel(prev)); err != nil {
			s.log.Warn("unsubscribe failed", zap.String("conversation_id", prev.String()), zap.Error(err))
		}
	}
	s.store.Dispatch(ConversationActivated{ID: id})
	if err := s.subs.acquire(ctx, realtime.ConversationChannel(id)); err != nil {
		return err
	}

	view := s.store.View()
	th, cached := view.Threads[id]
	if !cached || !th.Loaded {
		_, err := s.fetch(fetchCtx, id, 1)
		return err
	}
	if conv, ok := view.Conversation(id); ok && conv.LastMessage != nil && !holds(th, conv.LastMessage.ID) {
		return s.catchUp(fetchCtx, id, th)
	}
	return nil
}

// LoadOlder fetches the next older page of the active conversation.
func (s *Session) LoadOlder(ctx context.Context) error {
	view := s.store.View()
	th, ok := view.ActiveThread()
	if !ok || !th.Loaded || !th.HasMore {
		return nil
	}
	_, err := s.fetch(ctx, view.Active, th.PagesLoaded+1)
	return err
}

// Send posts content to the active conversation.
func (s *Session) Send(ctx context.Context, content string) (*chat.Message, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == uuid.Nil {
		return nil, apperr.Validation("no conversation is open", nil)
	}
	return s.send(ctx, PendingSend{ConversationID: active, Content: content})
}

// SendTo posts content to the direct conversation with recipientID, creating it on
// first use.
func (s *Session) SendTo(ctx context.Context, recipientID uuid.UUID, content string) (*chat.Message, error) {
	return s.send(ctx, PendingSend{RecipientID: recipientID, Content: content})
}

// Retry resends a failed pending message under a new temp id.
func (s *Session) Retry(ctx context.Context, tempID uuid.UUID) (*chat.Message, error) {
	pending := s.store.View().Pending
	idx := slices.IndexFunc(pending, func(p PendingSend) bool { return p.TempID == tempID })
	if idx < 0 {
		return nil, apperr.NotFound("pending message", nil)
	}
	p := pending[idx]
	if !p.Failed() {
		return nil, apperr.Validation("message is still sending", nil)
	}
	s.store.Dispatch(SendDismissed{TempID: tempID})
	return s.send(ctx, PendingSend{ConversationID: p.ConversationID, RecipientID: p.RecipientID, Content: p.Content})
}

// MessageVisible reports that msg is on screen. Only other people's unread messages
// start the read tracker.
func (s *Session) MessageVisible(msg chat.Message) {
	if msg.SenderID == s.self {
		return
	}
	conv, ok := s.store.View().Conversation(msg.ConversationID)
	if ok && !msg.CreatedAt.After(conv.LastReadAt) {
		return
	}
	s.tracker.Visible(msg.ConversationID, msg.ID)
}

func (s *Session) MessageHidden(msg chat.Message) {
	s.tracker.Hidden(msg.ID)
}

// Close tears down the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	s.mu.Unlock()

	s.tracker.Close()
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.subs.releaseAll(ctx); err != nil {
		s.log.Debug("release subscriptions", zap.Error(err))
	}
	err := s.push.Close()
	s.cancel()
	s.wg.Wait()
	return err
}

func (s *Session) send(ctx context.Context, p PendingSend) (*chat.Message, error) {
	p.TempID = uuid.New()
	p.StartedAt = time.Now()
	s.store.Dispatch(SendStarted{Pending: p})

	msg, err := s.api.SendMessage(ctx, chat.SendMessageRequest{
		ConversationID: p.ConversationID,
		RecipientID:    p.RecipientID,
		Content:        p.Content,
		Type:           chat.TypeText,
	})
	if err != nil {
		s.store.Dispatch(SendFailed{TempID: p.TempID, Err: err})
		return nil, err
	}
	s.apply(SendConfirmed{TempID: p.TempID, Message: *msg})
	return msg, nil
}

func (s *Session) fetch(ctx context.Context, id uuid.UUID, page int) (*chat.MessagePage, error) {
	res, err := s.api.FetchMessages(ctx, id, page, s.pageSize)
	if err != nil {
		return nil, err
	}
	s.apply(PageFetched{ConversationID: id, Page: *res})
	return res, nil
}

// catchUp fetches pages newest first until they overlap the cached thread, so
// messages that arrived while the conversation was inactive leave no gap.
func (s *Session) catchUp(ctx context.Context, id uuid.UUID, th ThreadView) error {
	for page := 1; ; page++ {
		res, err := s.fetch(ctx, id, page)
		if err != nil {
			return err
		}
		if !res.HasMore || len(res.Messages) == 0 || holds(th, res.Messages[0].ID) {
			return nil
		}
	}
}

func holds(th ThreadView, id uuid.UUID) bool {
	return slices.ContainsFunc(th.Messages, func(m chat.Message) bool { return m.ID == id })
}

// apply dispatches a and schedules a list reload when the cache asks for one.
func (s *Session) apply(a Action) {
	if s.store.Dispatch(a).RefreshList {
		select {
		case s.refresh <- struct{}{}:
		default:
		}
	}
}

func (s *Session) reloadConversations(ctx context.Context) error {
	summaries, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	s.store.Dispatch(ConversationsLoaded{Summaries: summaries})
	return nil
}

func (s *Session) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.refresh:
			if err := s.reloadConversations(ctx); err != nil && ctx.Err() == nil {
				s.report(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) pumpEvents(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.push.Events():
			s.route(evt)
		case <-s.push.Done():
			if err := s.push.Err(); err != nil && !s.isClosed() {
				s.log.Warn("push channel closed", zap.Error(err))
				s.report(err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) route(evt realtime.Event) {
	kind, _, err := realtime.ParseChannel(evt.Channel)
	if err != nil {
		s.log.Debug("event on unknown channel", zap.String("channel", evt.Channel))
		return
	}
	if kind == realtime.KindUserNotifications {
		s.notes.Apply(evt)
		return
	}
	s.apply(PushReceived{Event: evt})
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
