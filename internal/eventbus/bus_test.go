package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "reminder.sent", Data: 1})

	ea := <-a
	ec := <-c
	assert.Equal(t, "reminder.sent", ea.Type)
	assert.Equal(t, 1, ec.Data)
	assert.False(t, ea.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	require.Len(t, ch, 1)
	assert.Equal(t, "a", (<-ch).Type)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Publish(Event{Type: "x"}) })
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix(Event{Type: "reminder.sent"}, "reminder"))
	assert.True(t, HasPrefix(Event{Type: "reminder"}, "reminder"))
	assert.False(t, HasPrefix(Event{Type: "reminders.x"}, "reminder"))
	assert.False(t, HasPrefix(Event{Type: "task.failed"}, "reminder"))
}
