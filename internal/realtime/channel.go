package realtime

import (
	"sync"

	"github.com/joakey/joakey/backend/internal/store"
)

const channelBuffer = 64

// channel delivers one subscription's events to its handler in order on a
// dedicated goroutine. If the buffer overflows, dropped events are replaced
// by a single RESYNC.
type channel struct {
	topic   string
	table   string
	filter  string
	handler store.Handler

	events   chan store.ChangeEvent
	overflow chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
}

func newChannel(topic, table, filter string, handler store.Handler) *channel {
	ch := &channel{
		topic:    topic,
		table:    table,
		filter:   filter,
		handler:  handler,
		events:   make(chan store.ChangeEvent, channelBuffer),
		overflow: make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	go ch.run()
	return ch
}

func (ch *channel) deliver(evt store.ChangeEvent) {
	select {
	case <-ch.quit:
		return
	default:
	}
	select {
	case ch.events <- evt:
	default:
		select {
		case ch.overflow <- struct{}{}:
		default:
		}
	}
}

func (ch *channel) run() {
	for {
		select {
		case <-ch.quit:
			return
		case evt := <-ch.events:
			ch.handler(evt)
		case <-ch.overflow:
			ch.handler(store.ChangeEvent{Type: store.EventResync, Table: ch.table})
		}
	}
}

// stop ends delivery. A handler call already in progress runs to completion.
func (ch *channel) stop() {
	ch.stopOnce.Do(func() { close(ch.quit) })
}
