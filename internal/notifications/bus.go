package notifications

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"livestreamdvr/internal/metrics"
)

const defaultSubscriberBuffer = 64

// Bus fans events out to in-process subscribers such as a dashboard bridge.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Bus{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Publish delivers event to every subscriber without blocking. Subscribers
// whose buffer is full miss the event.
func (b *Bus) Publish(_ context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			metrics.IncNotificationDrop("bus", "full")
		}
	}
	return nil
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Subscription receives events until closed.
type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
