package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/chain"
)

func TestFeedDeliversToEverySubscriber(t *testing.T) {
	f := NewFeed()
	ch1, unsub1 := f.Subscribe(1)
	defer unsub1()
	ch2, unsub2 := f.Subscribe(1)
	defer unsub2()

	f.Publish(Event{Kind: Processed, Block: chain.Block{Height: 5}})

	ev1 := <-ch1
	ev2 := <-ch2
	require.Equal(t, Processed, ev1.Kind)
	assert.Equal(t, uint64(5), ev1.Block.Height)
	assert.Equal(t, ev1, ev2)
}

func TestFeedDropsOnSlowSubscriber(t *testing.T) {
	f := NewFeed()
	ch, unsub := f.Subscribe(1)
	defer unsub()

	f.Publish(Event{Kind: Rolledback, Height: 1})
	f.Publish(Event{Kind: Rolledback, Height: 2}) // dropped, mailbox full

	ev := <-ch
	assert.Equal(t, uint64(1), ev.Height)
	select {
	case <-ch:
		t.Fatal("expected second event to be dropped")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	f := NewFeed()
	ch, unsub := f.Subscribe(1)
	unsub()
	assert.Equal(t, 0, f.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok)
}
