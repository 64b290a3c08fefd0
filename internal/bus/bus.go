// Package bus provides the in-process event bus connecting the decision
// engine to its collaborators. Handlers run synchronously on the publisher's
// goroutine; subscribers that need their own pacing hand off internally.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic identifies a class of events on the bus
type Topic string

// Inbound signals consumed by the decision engine, and the outbound signals
// it emits.
const (
	GlucoseUpdated     Topic = "glucose.updated"
	PumpStatusUpdated  Topic = "pump.status.updated"
	CarbEntriesUpdated Topic = "carbs.updated"
	LoopDataUpdated    Topic = "loop.data.updated"
	LoopRunning        Topic = "loop.running"
)

// Event is a single occurrence published on the bus
type Event struct {
	Topic Topic
	At    time.Time
}

// Handler processes a single event
type Handler func(Event)

// Subscription is an owned handle to a registration; release it with Close
type Subscription struct {
	id    string
	topic Topic
	bus   *Bus
}

// Close releases the subscription
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s)
}

// Bus broadcasts events to subscribers.
//
// Thread safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[string]Handler
	closed bool
}

// New creates an empty bus
func New() *Bus {
	return &Bus{subs: make(map[Topic]map[string]Handler)}
}

// Subscribe registers a handler for a topic and returns its handle.
// Returns nil if the bus is closed.
func (b *Bus) Subscribe(topic Topic, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	id := uuid.NewString()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]Handler)
	}
	b.subs[topic][id] = h

	return &Subscription{id: id, topic: topic, bus: b}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[s.topic]; ok {
		delete(handlers, s.id)
	}
}

// Publish delivers an event to every subscriber of its topic. The handler
// list is snapshotted first so handlers may subscribe or unsubscribe freely.
func (b *Bus) Publish(topic Topic) {
	ev := Event{Topic: topic, At: time.Now()}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Close drops all subscriptions; subsequent Subscribe calls return nil
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = make(map[Topic]map[string]Handler)
}
