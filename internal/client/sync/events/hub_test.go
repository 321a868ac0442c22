package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	hub.Emit(SyncStarted, nil)
	hub.Publish(Event{Name: SyncTerminated, Err: errors.New("gone")})

	ev := <-ch
	assert.Equal(t, SyncStarted, ev.Name)
	assert.False(t, ev.Time.IsZero())

	ev = <-ch
	assert.Equal(t, SyncTerminated, ev.Name)
	assert.EqualError(t, ev.Err, "gone")
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		hub.Emit(OutboxStatus, OutboxStatusData{Pending: i})
	}

	ev := <-ch
	assert.Equal(t, OutboxStatusData{Pending: 0}, ev.Data)
	assert.Len(t, ch, 0)
}

func TestHub_Cancel(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe(1)

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	require.NotPanics(t, func() { hub.Emit(Ready, nil) })
}

func TestHub_NilSafe(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Emit(Ready, nil) })
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub(nil)
	a, cancelA := hub.Subscribe(1)
	defer cancelA()
	b, cancelB := hub.Subscribe(1)
	defer cancelB()

	hub.Emit(NetworkStatus, NetworkStatusData{Online: true})

	assert.Equal(t, NetworkStatus, (<-a).Name)
	assert.Equal(t, NetworkStatus, (<-b).Name)
}
