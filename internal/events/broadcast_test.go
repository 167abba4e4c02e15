package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socksmon/internal/models"
)

func TestEmitFansOut(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer s1.Close()
	defer s2.Close()

	b.Emit(models.AuthEvent{SrcPort: 1})

	for _, s := range []*Subscription{s1, s2} {
		select {
		case ev := <-s.C:
			assert.Equal(t, uint16(1), ev.SrcPort)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe(2)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Emit(models.AuthEvent{SrcPort: uint16(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}

	emitted, dropped := b.Stats()
	assert.Equal(t, uint64(5), emitted)
	assert.Equal(t, uint64(3), dropped)

	assert.Equal(t, uint16(0), (<-s.C).SrcPort)
	assert.Equal(t, uint16(1), (<-s.C).SrcPort)
}

func TestEmitWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Emit(models.AuthEvent{})

	emitted, dropped := b.Stats()
	assert.Equal(t, uint64(1), emitted)
	assert.Zero(t, dropped)
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe(0)
	require.Equal(t, 1, b.Subscribers())

	s.Close()
	s.Close()

	assert.Zero(t, b.Subscribers())
	_, ok := <-s.C
	assert.False(t, ok, "channel should be closed")

	b.Emit(models.AuthEvent{})
}
