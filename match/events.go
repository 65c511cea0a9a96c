// File: match/events.go
package match

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// EventKind names an observable engine event.
type EventKind string

const (
	EventQueueJoined       EventKind = "queue-joined"
	EventQueueLeft         EventKind = "queue-left"
	EventMatchCreated      EventKind = "match-created"
	EventMatchStarted      EventKind = "match-started"
	EventMatchEnded        EventKind = "match-ended"
	EventPlayerLagging     EventKind = "player-lagging"
	EventPlayerTimeout     EventKind = "player-timeout"
	EventPlayerDisconnect  EventKind = "player-disconnected"
	EventPlayerReconnect   EventKind = "player-reconnected"
	EventDesyncDetected    EventKind = "desync-detected"
)

// Event is what embedder listeners receive. Payload carries the matching wire
// payload struct when one exists.
type Event struct {
	Kind     EventKind
	MatchID  string
	PlayerID string
	Tick     uint32
	Payload  interface{}
}

// Subscription is the handle returned by Subscribe; releasing it removes the
// listener.
type Subscription struct {
	bus  *Bus
	kind EventKind
	id   uint64
	once sync.Once
}

// Cancel removes the listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs, ok := s.bus.subs[s.kind]; ok {
			delete(subs, s.id)
		}
	})
}

// Bus is the public observation surface for embedders. Listeners run on the
// publishing actor's goroutine, so they must be fast; a panicking listener is
// recovered and never affects match progress.
type Bus struct {
	mu     sync.RWMutex
	log    zerolog.Logger
	nextID uint64
	subs   map[EventKind]map[uint64]func(Event)
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log.With().Str("component", "bus").Logger(),
		subs: make(map[EventKind]map[uint64]func(Event)),
	}
}

// Subscribe registers fn for one event kind and returns its handle.
func (b *Bus) Subscribe(kind EventKind, fn func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]func(Event))
	}
	b.subs[kind][b.nextID] = fn
	return &Subscription{bus: b, kind: kind, id: b.nextID}
}

// Publish delivers the event to every listener of its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	listeners := make([]func(Event), 0, len(b.subs[ev.Kind]))
	for _, fn := range b.subs[ev.Kind] {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Str("kind", string(ev.Kind)).Str("stack", string(debug.Stack())).Msg("event listener panicked")
				}
			}()
			fn(ev)
		}()
	}
}
