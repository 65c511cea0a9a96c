// File: match/events_test.go
package match

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var got []Event
	bus.Subscribe(EventMatchCreated, func(ev Event) {
		got = append(got, ev)
	})

	bus.Publish(Event{Kind: EventMatchCreated, MatchID: "m1"})
	bus.Publish(Event{Kind: EventMatchEnded, MatchID: "m1"})

	require.Len(t, got, 1, "only the subscribed kind is delivered")
	assert.Equal(t, "m1", got[0].MatchID)
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	calls := 0
	sub := bus.Subscribe(EventMatchStarted, func(Event) { calls++ })

	bus.Publish(Event{Kind: EventMatchStarted})
	sub.Cancel()
	sub.Cancel() // idempotent
	bus.Publish(Event{Kind: EventMatchStarted})

	assert.Equal(t, 1, calls)
}

func TestBus_PanickingListenerIsolated(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Subscribe(EventDesyncDetected, func(Event) { panic("listener bug") })
	delivered := false
	bus.Subscribe(EventDesyncDetected, func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Kind: EventDesyncDetected})
	})
	assert.True(t, delivered, "other listeners still run")
}

func TestBus_MultipleListenersSameKind(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	a, b := 0, 0
	bus.Subscribe(EventQueueJoined, func(Event) { a++ })
	bus.Subscribe(EventQueueJoined, func(Event) { b++ })

	bus.Publish(Event{Kind: EventQueueJoined})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
