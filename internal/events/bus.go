// Package events provides the in-process publish/subscribe bus that connects
// the navigation engine to the page modules.
package events

import (
	"context"
	"sync"
)

// Name identifies an event.
type Name string

// Navigation lifecycle events.
const (
	Ready              Name = "spa:ready"
	BeforeNavigate     Name = "spa:before-navigate"
	NavigationStart    Name = "spa:navigation-start"
	NavigationComplete Name = "spa:navigation-complete"
	Cleanup            Name = "spa:cleanup"
	ContentLoaded      Name = "spa:content-loaded"
)

// Dashboard drill-down events.
const (
	ResetToLevel0          Name = "talon:resetToLevel0"
	NavigateToLevel        Name = "talon:navigateToLevel"
	PeriodChanged          Name = "talon:periodChanged"
	CharacterFilterChanged Name = "talon:characterFilterChanged"
)

// ModuleReady returns the readiness event published by a page module, for
// example "attivita:ready".
func ModuleReady(module string) Name {
	return Name(module + ":ready")
}

// Event is a published event. Detail carries one of the *Detail types below,
// or nil.
type Event struct {
	Name   Name
	Detail any
}

// NavigationDetail accompanies spa:before-navigate, spa:navigation-start and
// spa:navigation-complete.
type NavigationDetail struct {
	URL     string
	Trigger string
	Force   bool
}

// CleanupDetail accompanies spa:cleanup. From is the URL being left.
type CleanupDetail struct {
	From string
}

// ContentLoadedDetail accompanies spa:content-loaded.
type ContentLoadedDetail struct {
	Path string
}

// LevelDetail accompanies talon:navigateToLevel. Category is the activity
// type chosen at level 0 and Entity the entity chosen at level 1.
type LevelDetail struct {
	Level    int
	Category string
	Entity   string
}

// PeriodDetail accompanies talon:periodChanged.
type PeriodDetail struct {
	Period string
}

// CharacterFilterDetail accompanies talon:characterFilterChanged.
type CharacterFilterDetail struct {
	Character string
}

// Handler reacts to an event. Handlers run synchronously on the publishing
// goroutine, in subscription order.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous event bus. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Name][]subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]subscription)}
}

// Subscribe registers h for name and returns a function that removes it.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, name)
			} else {
				b.subs[name] = next
			}
			return
		}
	}
}

// Publish delivers ev to every handler subscribed to ev.Name. Handlers may
// subscribe, unsubscribe or publish from within a handler.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Name]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ctx, ev)
	}
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
