package events

import (
	"sync"
	"sync/atomic"

	"socksmon/internal/models"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Broadcaster fans AuthEvents out to subscribers.
//
// Emit never blocks: a subscriber whose queue is full misses the event and
// the drop is counted. Nothing is retried.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	emitted atomic.Uint64
	dropped atomic.Uint64
}

// Subscription is one consumer's view of the event stream.
type Subscription struct {
	C <-chan models.AuthEvent

	ch   chan models.AuthEvent
	b    *Broadcaster
	once sync.Once
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a consumer with a queue of buf events.
func (b *Broadcaster) Subscribe(buf int) *Subscription {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	ch := make(chan models.AuthEvent, buf)
	s := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.ch)
	})
}

// Emit delivers ev to every subscriber that has room for it.
func (b *Broadcaster) Emit(ev models.AuthEvent) {
	b.emitted.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of registered subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns how many events were emitted and how many deliveries were dropped.
func (b *Broadcaster) Stats() (emitted, dropped uint64) {
	return b.emitted.Load(), b.dropped.Load()
}
