package events

import (
	"sync"
	"sync/atomic"

	"escrowledger/core/types"
)

// Sink receives every published event synchronously, in publish order.
type Sink func(*types.Event)

// Bus fans events out to synchronous sinks and buffered subscriptions.
// Subscriptions that cannot keep up lose events rather than blocking the
// publisher; Dropped reports how many were lost.
type Bus struct {
	mu      sync.RWMutex
	sinks   []Sink
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
	onDrop  func()
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription is a buffered stream of events. Close releases it.
type Subscription struct {
	id   uint64
	bus  *Bus
	ch   chan *types.Event
	once sync.Once
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan *types.Event { return s.ch }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// AddSink registers a synchronous consumer.
func (b *Bus) AddSink(sink Sink) {
	if b == nil || sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// OnDrop installs a hook invoked each time a subscription loses an event. It
// must be set before the bus is shared.
func (b *Bus) OnDrop(fn func()) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a buffered subscription holding up to size events.
func (b *Bus) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, bus: b, ch: make(chan *types.Event, size)}
	b.subs[sub.id] = sub
	return sub
}

// Emit implements Emitter.
func (b *Bus) Emit(evt Event) {
	if b == nil {
		return
	}
	rendered := ToTypes(evt)
	if rendered == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks {
		sink(rendered.Clone())
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- rendered.Clone():
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were discarded for slow subscribers.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
