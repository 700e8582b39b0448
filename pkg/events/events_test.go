package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestPublishFansOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	all, web1 := b.Subscribe(nil), b.Subscribe(ForHost("web1"))
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventCommandQueued, Host: "web2", Message: "RUN"})
	b.Publish(&Event{Type: EventAgentStatus, Host: "web1", Message: "STANDBY"})

	ev := receive(t, all)
	assert.Equal(t, "web2", ev.Host)
	ev = receive(t, all)
	assert.Equal(t, "web1", ev.Host)

	ev = receive(t, web1)
	assert.Equal(t, EventAgentStatus, ev.Type)
	assert.Equal(t, "STANDBY", ev.Message)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestForHostEmptyMatchesAll(t *testing.T) {
	assert.Nil(t, ForHost(""))
	f := ForHost("db1")
	assert.True(t, f(&Event{Host: "db1"}))
	assert.False(t, f(&Event{Host: "db10"}))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(nil)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	// Not started: the queue fills and the rest is dropped
	b := NewBroker()
	done := make(chan struct{})
	go func() {
		for i := 0; i < QueueSize+50; i++ {
			b.Publish(&Event{Type: EventCommandQueued})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
	assert.Equal(t, uint64(50), b.Dropped())
}

func TestSlowSubscriberMissesEvents(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(nil)
	other := b.Subscribe(ForHost("elsewhere"))
	for i := 0; i < SubscriberBuffer+10; i++ {
		b.deliver(&Event{Type: EventReportReceived, Host: "web1"})
	}
	require.Len(t, sub.C, SubscriberBuffer)
	assert.Empty(t, other.C)
	assert.Equal(t, uint64(10), b.Dropped())
	b.Stop()
	b.Stop()
}
