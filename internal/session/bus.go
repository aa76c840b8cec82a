// Package session implements C7: session ownership (one context
// manager + one orchestrator per session), event broadcast, and
// rollout persistence.
package session

import (
	"sync"
	"sync/atomic"
)

// Event is a single broadcastable occurrence within a session's
// lifetime: turn start/stop, tool lifecycle, approval decisions,
// provider errors. The payload is left as `any` so every upstream
// producer (turnengine.Event, toolrouter.Event) can be forwarded
// without a translation layer.
type Event struct {
	SessionID string
	Seq       uint64
	Payload   any
}

// BroadcastBus is a bounded, fire-and-forget fan-out of session
// Events to any number of subscribers. A slow or absent subscriber
// never blocks publication: once its buffer is full, subsequent
// events for it are dropped and counted in a per-subscriber counter.
// No lag marker is delivered to the subscriber, and the drop count is
// not readable from outside the bus.
//
// Grounded on the teacher's internal/agent/event_sink.go
// BackpressureSink (two-lane buffer, atomic dropped counter) —
// simplified to a single lane per subscriber since spec.md does not
// distinguish event priority classes, only a single capacity bound.
type BroadcastBus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	seq         uint64
	capacity    int
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// DefaultBusCapacity is spec.md §6.5's documented default (1024).
const DefaultBusCapacity = 1024

// NewBroadcastBus creates a bus with the given per-subscriber buffer
// capacity; capacity <= 0 uses DefaultBusCapacity.
func NewBroadcastBus(capacity int) *BroadcastBus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &BroadcastBus{subscribers: make(map[int]*subscriber), capacity: capacity}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is never closed by Publish; the
// caller closes out via the returned unsubscribe func, which also
// closes the channel.
func (b *BroadcastBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, b.capacity)}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans out an event to every subscriber, never blocking:
// a full subscriber buffer increments that subscriber's lag counter
// and the event is dropped for it alone.
func (b *BroadcastBus) Publish(sessionID string, payload any) {
	b.mu.Lock()
	seq := atomic.AddUint64(&b.seq, 1)
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	event := Event{SessionID: sessionID, Seq: seq, Payload: payload}
	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *BroadcastBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
