package realtime

import (
	"context"
	"path"
	"sync"
)

// Delivery is one raw payload received on a channel.
type Delivery struct {
	Channel string
	Payload []byte
}

// Broker is the pub/sub transport between server instances. Delivery is at-least-once at best:
// publishes may be lost and nothing is ordered across channels.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers every publish whose channel matches one of the glob patterns
	// until ctx is cancelled, then closes the returned channel.
	Subscribe(ctx context.Context, patterns ...string) (<-chan Delivery, error)
}

const subscriberBuffer = 256

// MemoryBroker is an in-process Broker for single-instance deployments and tests.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

type memorySub struct {
	patterns []string
	ch       chan Delivery
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySub]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- Delivery{Channel: channel, Payload: payload}:
		default:
			// subscriber is behind; best effort
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, patterns ...string) (<-chan Delivery, error) {
	sub := &memorySub{patterns: patterns, ch: make(chan Delivery, subscriberBuffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

func (s *memorySub) matches(channel string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}
