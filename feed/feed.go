// Package feed implements the produced event feed: a tagged
// Processed{block}/Rolledback{height} stream delivered to subscribers on
// a best-effort basis, dropped if the subscriber is slow. An in-process
// fan-out handles local subscribers; an optional sarama-backed Broker
// mirrors the same events to an external Kafka topic.
package feed

import (
	"sync"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/log"
)

var logger = log.NewModuleLogger(log.Feed)

// Kind tags the variant carried by Event.
type Kind int

const (
	Processed Kind = iota
	Rolledback
)

// Event is the reactor's produced stream item: a tagged
// {Processed{block}, Rolledback{height}} value.
type Event struct {
	Kind   Kind
	Block  chain.Block
	Height uint64
}

// subscription is one subscriber's best-effort mailbox.
type subscription struct {
	id uint64
	ch chan Event
}

// Feed is an in-process, best-effort multi-subscriber broadcaster. A slow
// subscriber's channel fills and subsequent sends to it are dropped
// rather than blocking the publisher.
type Feed struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

// NewFeed returns an empty in-process feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a new best-effort mailbox of the given buffer
// depth and returns it plus an unsubscribe function.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	sub := &subscription{id: id, ch: make(chan Event, buffer)}
	f.subs[id] = sub

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans out ev to every subscriber, dropping it for any subscriber
// whose mailbox is currently full.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			logger.Warn("dropping event for slow subscriber", "subscriber", sub.id)
		}
	}
}

// SubscriberCount reports the current number of live subscriptions,
// mainly for tests and metrics.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
