// eventBus_test
package apocalypse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusTopicMatching(t *testing.T) {
	bus := NewEventBus()

	all := make(chan BusEvent, 8)
	demons := make(chan BusEvent, 8)
	letters := make(chan BusEvent, 8)

	require.NoError(t, bus.Subscribe("", all))
	require.NoError(t, bus.Subscribe("^demon\\.", demons))
	require.NoError(t, bus.Subscribe("deadletter", letters))
	assert.Error(t, bus.Subscribe("([", make(chan BusEvent, 1)), "a broken pattern must be refused")

	bus.Publish(TopicSpawn, BusEvent{Address: 3})
	bus.Publish(TopicDeadLetter, BusEvent{Address: 3, Payload: "lost"})
	bus.Publish(TopicIgnition, BusEvent{Detail: "h"})

	assert.Len(t, all, 3, "empty pattern matches every topic")
	assert.Len(t, demons, 1, "demon pattern matches spawn only")
	assert.Len(t, letters, 1)

	ev := <-demons
	assert.Equal(t, TopicSpawn, ev.Topic)
	assert.Equal(t, Address(3), ev.Address)
	assert.False(t, ev.At.IsZero(), "events must be stamped")
	assert.NotEqual(t, ev.ID.String(), (<-letters).ID.String(), "each event gets its own id")
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan BusEvent, 4)
	require.NoError(t, bus.Subscribe("", ch))

	bus.Publish(TopicSpawn, BusEvent{})
	assert.Len(t, ch, 1)

	bus.Unsubscribe(ch)
	bus.Publish(TopicSpawn, BusEvent{})
	assert.Len(t, ch, 1, "an unsubscribed channel receives nothing")

	require.NoError(t, bus.Subscribe("", ch))
	bus.Close()
	bus.Publish(TopicSpawn, BusEvent{})
	assert.Len(t, ch, 1, "a closed bus drops everything")
}

func TestBusFullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan BusEvent, 1)
	require.NoError(t, bus.Subscribe("", ch))

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish(TopicSpawn, BusEvent{})
		bus.Publish(TopicSpawn, BusEvent{})
		bus.Publish(TopicSpawn, BusEvent{})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a full subscriber")
	}
	assert.Len(t, ch, 1, "overflow is dropped, not queued")
}

// the runtime feeds the bus through the whole demon lifecycle
func TestBusLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus()
	events := make(chan BusEvent, 32)
	require.NoError(t, bus.Subscribe("", events))

	gate := BuildHell().WithName("observed").WithBus(bus).Ignite()

	loc, err := SpawnFunc(ctx, gate, func(_ context.Context, s string) string { return s })
	require.NoError(t, err)
	_, err = Send(ctx, gate, loc, "ping")
	require.NoError(t, err)
	require.NoError(t, Vanquish(ctx, gate, loc))
	require.NoError(t, gate.Extinguish(ctx, true))

	seen := map[string]int{}
	for drained := false; !drained; {
		select {
		case ev := <-events:
			seen[ev.Topic]++
		case <-time.After(100 * time.Millisecond):
			drained = true
		}
	}
	assert.Equal(t, 1, seen[TopicIgnition])
	assert.Equal(t, 1, seen[TopicSpawn])
	assert.Equal(t, 1, seen[TopicVanquish])
	assert.Equal(t, 1, seen[TopicExtinguish])
	assert.Zero(t, seen[TopicKillswitch], "nothing was killswitched")
}
