package records

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// Event is a record lifecycle event.
type Event int

const (
	BeforeCreate Event = iota
	AfterCreate
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete
)

func (e Event) String() string {
	switch e {
	case BeforeCreate:
		return "beforeCreate"
	case AfterCreate:
		return "afterCreate"
	case BeforeUpdate:
		return "beforeUpdate"
	case AfterUpdate:
		return "afterUpdate"
	case BeforeDelete:
		return "beforeDelete"
	case AfterDelete:
		return "afterDelete"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// AllCollections registers a hook for every collection.
const AllCollections = "*"

// HookParams is passed to every hook. Previous is set for update events.
// For delete events Record holds the data as it was before the tombstone.
type HookParams struct {
	Event    Event
	Record   *domain.Record
	Previous *domain.Record
}

// Hook is a lifecycle listener. A returned error aborts the operation that
// fired it.
type Hook func(ctx context.Context, p HookParams) error

type hookKey struct {
	event      Event
	collection string
}

type listener struct {
	fn Hook
}

// Hooks is a registry of lifecycle listeners keyed by (event, collection).
type Hooks struct {
	mu        sync.RWMutex
	listeners map[hookKey][]*listener
}

func NewHooks() *Hooks {
	return &Hooks{listeners: make(map[hookKey][]*listener)}
}

// Register adds fn for event on collection (or AllCollections) and returns
// a function that removes it again.
func (h *Hooks) Register(event Event, collection string, fn Hook) (unregister func()) {
	l := &listener{fn: fn}
	key := hookKey{event: event, collection: collection}

	h.mu.Lock()
	h.listeners[key] = append(h.listeners[key], l)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.listeners[key] = slices.DeleteFunc(h.listeners[key], func(x *listener) bool { return x == l })
		})
	}
}

// Run fires the listeners for the record's collection, then the wildcard
// listeners, in registration order. It stops at the first error.
func (h *Hooks) Run(ctx context.Context, p HookParams) error {
	collection := p.Record.Collection

	h.mu.RLock()
	specific := slices.Clone(h.listeners[hookKey{event: p.Event, collection: collection}])
	wildcard := slices.Clone(h.listeners[hookKey{event: p.Event, collection: AllCollections}])
	h.mu.RUnlock()

	for _, l := range append(specific, wildcard...) {
		if err := l.fn(ctx, p); err != nil {
			return fmt.Errorf("%s hook on %s: %w", p.Event, collection, err)
		}
	}
	return nil
}
