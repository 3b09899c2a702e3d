// Package events provides the intercom: a synchronous publish/subscribe bus
// connecting route binders, CRUD services, authorizers and responders.
package events

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "facet:item:find", "facet:response:error").
	Name string

	// Resource is the api event type of the emitting resource, if any.
	Resource string

	// Action is the operation that triggered the event.
	Action string

	// Data is the event payload. See payload.go for the typed payloads
	// carried by the well-known events.
	Data any
}

// Handler is a function that processes an event. The context is the one the
// publisher passed in, so request-scoped values travel with the event.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event and returns a function that
// removes it. Supports prefix subscriptions:
//   - "facet:item:find" - exact match
//   - "facet:response:*" - every event starting with "facet:response:"
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[event]
		for i, s := range subs {
			if s.id == id {
				b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[event]) == 0 {
			delete(b.handlers, event)
		}
	}
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order, exact matches
// first. Handlers may publish or subscribe themselves. Handler errors are
// logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("resource", event.Resource).
		Str("action", event.Action).
		Int("listeners", len(matched)).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// Emit is shorthand for publishing an event with only a name and payload.
func (b *Bus) Emit(ctx context.Context, name string, data any) {
	b.Publish(ctx, Event{Name: name, Data: data})
}

// ListenerCount returns the number of handlers an event would reach.
func (b *Bus) ListenerCount(event string) int {
	return len(b.match(event))
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return b.ListenerCount(event) > 0
}

func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	for _, s := range b.handlers[name] {
		matched = append(matched, s.handler)
	}
	var patterns []string
	for pattern := range b.handlers {
		if isPrefixPattern(pattern) && pattern != name &&
			strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
			patterns = append(patterns, pattern)
		}
	}
	// Longer (more specific) prefixes first.
	sort.Slice(patterns, func(i, j int) bool { return len(patterns[i]) > len(patterns[j]) })
	for _, p := range patterns {
		for _, s := range b.handlers[p] {
			matched = append(matched, s.handler)
		}
	}
	return matched
}

func isPrefixPattern(p string) bool {
	return strings.HasSuffix(p, "*")
}
