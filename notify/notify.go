// Package notify provides a small in-process event bus used to observe
// middleware pipelines. Subscribers register per event name; Instrument
// runs a unit of work and publishes its timing to every subscriber of the
// event.
package notify

import (
	"sync"
	"time"
)

// Event is one recorded occurrence delivered to subscribers.
type Event struct {
	Name     string
	Payload  map[string]any
	Start    time.Time
	Duration time.Duration
}

// Subscriber receives events after the instrumented work has finished.
type Subscriber func(Event)

// Bus fans events out to subscribers by event name. The zero value is not
// usable; create one with NewBus. Subscribe may be called concurrently
// with Instrument, but subscribers for an event should be in place before
// a pipeline consulting the bus is compiled.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Subscriber)}
}

// Subscribe registers fn for the given event name.
func (b *Bus) Subscribe(event string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[event] = append(b.subscribers[event], fn)
}

// Listening reports whether any subscriber is registered for event.
func (b *Bus) Listening(event string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[event]) > 0
}

// Instrument runs fn exactly once and publishes an Event carrying the
// measured duration to the event's subscribers. The event is published
// from a deferred call, so the end bookkeeping completes even when fn
// panics; the panic then propagates to the caller unchanged.
func (b *Bus) Instrument(event string, payload map[string]any, fn func()) {
	start := time.Now()
	defer func() {
		b.publish(Event{
			Name:     event,
			Payload:  payload,
			Start:    start,
			Duration: time.Since(start),
		})
	}()
	fn()
}

// publish delivers ev to a snapshot of the event's subscribers taken
// under the read lock, so subscribers run without holding it.
func (b *Bus) publish(ev Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[ev.Name]...)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
