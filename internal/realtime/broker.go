package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/joakey/joakey/backend/internal/store"
)

// Broker is an in-process ChangeFeed. Local stores publish their writes to
// it; subscribers see them with the same filter semantics as Supabase.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*brokerSub
	next   uint64
	closed bool
}

type brokerSub struct {
	table  string
	filter store.Filter
	ch     *channel
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*brokerSub)}
}

// Subscribe registers handler for changes on table matching filter.
func (b *Broker) Subscribe(_ context.Context, table, filter string, handler store.Handler) (store.Subscription, error) {
	f, err := store.ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.next++
	id := b.next
	b.subs[id] = &brokerSub{
		table:  table,
		filter: f,
		ch:     newChannel(fmt.Sprintf("local:%s-%d", table, id), table, filter, handler),
	}
	return &brokerSubscription{broker: b, id: id}, nil
}

// Publish fans evt out to matching subscriptions. Deletes match on the old
// record.
func (b *Broker) Publish(evt store.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.table != evt.Table {
			continue
		}
		if sub.filter.Matches(evt.Record) || sub.filter.Matches(evt.OldRecord) {
			sub.ch.deliver(evt)
		}
	}
}

// Close stops every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		sub.ch.stop()
		delete(b.subs, id)
	}
	return nil
}

type brokerSubscription struct {
	broker *Broker
	id     uint64
}

func (s *brokerSubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if sub, ok := s.broker.subs[s.id]; ok {
		sub.ch.stop()
		delete(s.broker.subs, s.id)
	}
	return nil
}
