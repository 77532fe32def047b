package inbox

import (
	"context"
	"errors"
	"sync"
)

type pusher interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// subscriptions holds at most one push subscription per channel for a session.
type subscriptions struct {
	push pusher

	mu     sync.Mutex
	active map[string]struct{}
}

func newSubscriptions(push pusher) *subscriptions {
	return &subscriptions{push: push, active: make(map[string]struct{})}
}

func (s *subscriptions) acquire(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[channel]; ok {
		return nil
	}
	if err := s.push.Subscribe(ctx, channel); err != nil {
		return err
	}
	s.active[channel] = struct{}{}
	return nil
}

func (s *subscriptions) release(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[channel]; !ok {
		return nil
	}
	delete(s.active, channel)
	return s.push.Unsubscribe(ctx, channel)
}

func (s *subscriptions) releaseAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for channel := range s.active {
		delete(s.active, channel)
		errs = append(errs, s.push.Unsubscribe(ctx, channel))
	}
	return errors.Join(errs...)
}

func (s *subscriptions) held(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[channel]
	return ok
}
