package receipts

import (
	"context"
	"sync"
	"time"

	"go-foodie/internal/chat"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultDwell = time.Second
	markTimeout  = 10 * time.Second
)

// Marker advances the caller's read cursor on the server.
type Marker interface {
	MarkRead(ctx context.Context, conversationID uuid.UUID) (*chat.Receipt, error)
}

type Options struct {
	Dwell    time.Duration
	OnMarked func(chat.Receipt)
	OnError  func(conversationID uuid.UUID, err error)
}

type pending struct {
	inFlight bool
	again    bool
}

// Tracker marks a conversation read once one of its messages has stayed visible for
// the dwell time. At most one mark per conversation is in flight; triggers that land
// meanwhile collapse into a single follow-up mark.
type Tracker struct {
	marker Marker
	dwell  time.Duration
	opts   Options
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer // message id
	convs  map[uuid.UUID]*pending
	closed bool
}

func NewTracker(marker Marker, log *zap.Logger, opts Options) *Tracker {
	if opts.Dwell <= 0 {
		opts.Dwell = DefaultDwell
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		marker: marker,
		dwell:  opts.Dwell,
		opts:   opts,
		log:    log.Named("receipts"),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[uuid.UUID]*time.Timer),
		convs:  make(map[uuid.UUID]*pending),
	}
}

// Visible starts the dwell timer for a message. Repeated calls keep the first timer.
func (t *Tracker) Visible(conversationID, messageID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.timers[messageID]; ok {
		return
	}
	t.timers[messageID] = time.AfterFunc(t.dwell, func() {
		t.fire(conversationID, messageID)
	})
}

// Hidden cancels a dwell timer that has not fired yet.
func (t *Tracker) Hidden(messageID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[messageID]; ok {
		timer.Stop()
		delete(t.timers, messageID)
	}
}

// Close stops all timers and waits for in-flight marks.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) fire(conversationID, messageID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.timers[messageID]; !ok || t.closed {
		return // hidden or closed meanwhile
	}
	delete(t.timers, messageID)

	p, ok := t.convs[conversationID]
	if !ok {
		p = &pending{}
		t.convs[conversationID] = p
	}
	if p.inFlight {
		p.again = true
		return
	}
	p.inFlight = true
	t.wg.Add(1)
	go t.mark(conversationID, p)
}

func (t *Tracker) mark(conversationID uuid.UUID, p *pending) {
	defer t.wg.Done()
	for {
		ctx, cancel := context.WithTimeout(t.ctx, markTimeout)
		receipt, err := t.marker.MarkRead(ctx, conversationID)
		cancel()

		switch {
		case err != nil:
			t.log.Warn("mark read failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
			if t.opts.OnError != nil {
				t.opts.OnError(conversationID, err)
			}
		case t.opts.OnMarked != nil:
			t.opts.OnMarked(*receipt)
		}

		t.mu.Lock()
		if !p.again || t.closed {
			delete(t.convs, conversationID)
			t.mu.Unlock()
			return
		}
		p.again = false
		t.mu.Unlock()
	}
}
