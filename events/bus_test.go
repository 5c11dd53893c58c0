package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus[int]()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(7)

	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-b)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus[string]()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish("late")
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus[int]()
	ch := bus.Subscribe()

	// Fill the buffer and then some; Publish never blocks.
	for i := 0; i < 100; i++ {
		bus.Publish(i)
	}

	require.Len(t, ch, 16)
	assert.Equal(t, 0, <-ch)
}
