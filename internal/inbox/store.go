package inbox

import (
	"context"

	"github.com/google/uuid"
)

type dispatch struct {
	action Action
	result chan Effect
}

// Store is the actor that owns the conversation cache. All transitions go through
// Dispatch and are applied one at a time.
type Store struct {
	self    uuid.UUID
	actions chan dispatch
	views   chan chan View
	changes chan struct{}
	done    chan struct{}
}

func NewStore(self uuid.UUID) *Store {
	return &Store{
		self:    self,
		actions: make(chan dispatch),
		views:   make(chan chan View),
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run applies actions until ctx ends.
func (s *Store) Run(ctx context.Context) {
	defer close(s.done)
	st := newState(s.self)
	for {
		select {
		case d := <-s.actions:
			effect := d.action.apply(st)
			if effect.Changed {
				s.notify()
			}
			d.result <- effect
		case reply := <-s.views:
			reply <- st.view()
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch applies a and returns once it has taken effect. After the store stops it
// returns a zero Effect.
func (s *Store) Dispatch(a Action) Effect {
	d := dispatch{action: a, result: make(chan Effect, 1)}
	select {
	case s.actions <- d:
		return <-d.result
	case <-s.done:
		return Effect{}
	}
}

func (s *Store) View() View {
	reply := make(chan View, 1)
	select {
	case s.views <- reply:
		return <-reply
	case <-s.done:
		return View{}
	}
}

// Changes signals (coalesced) that the view changed.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
