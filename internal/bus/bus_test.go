package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDelivery(t *testing.T) {
	b := New()
	ch := b.Subscribe("/tickets/1", 0)
	assert.Equal(t, 1, b.SubscriberCount("/tickets/1"))

	b.Publish("/tickets/1", Frame{Method: "comment:created"})

	select {
	case f := <-ch:
		assert.Equal(t, "comment:created", f.Method)
		assert.Equal(t, "/tickets/1", f.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := New()
	ch := b.Subscribe("/tickets/1", 0)
	b.Publish("/tickets/2", Frame{Method: "comment:created"})

	select {
	case f := <-ch:
		t.Fatalf("unexpected delivery from other topic: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	b := New()
	ch := b.Subscribe("/agents/state", 0)
	require.Equal(t, 1, b.SubscriberCount("/agents/state"))

	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.SubscriberCount("/agents/state"))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	assert.NotPanics(t, func() { b.Unsubscribe(ch) })
}

func TestPublishDropsOldestWhenBufferFull(t *testing.T) {
	b := New()
	ch := b.Subscribe("/busy", 2)

	b.Publish("/busy", Frame{ID: "1"})
	b.Publish("/busy", Frame{ID: "2"})
	b.Publish("/busy", Frame{ID: "3"})

	first := <-ch
	second := <-ch
	assert.Equal(t, "2", first.ID, "oldest frame should have been dropped")
	assert.Equal(t, "3", second.ID)
}

func TestPublishOnNilBusIsNoop(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish("/anything", Frame{}) })
}

func TestMultipleSubscribersEachGetTheFrame(t *testing.T) {
	b := New()
	a := b.Subscribe("/topic", 1)
	c := b.Subscribe("/topic", 1)

	b.Publish("/topic", Frame{ID: "x"})

	fa := <-a
	fc := <-c
	assert.Equal(t, "x", fa.ID)
	assert.Equal(t, "x", fc.ID)
}
