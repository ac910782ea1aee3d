package trees

import (
	"sync"

	"github.com/cuemby/actyx/pkg/types"
)

// rawEvent pairs an event with the stream it came from, the unit the
// broker fans out.
type rawEvent struct {
	stream types.StreamId
	event  types.Event
}

// broker distributes newly-emitted or newly-imported events to every
// live subscription: one buffered channel per subscriber, publish
// never blocks on a slow subscriber.
type broker struct {
	mu   sync.RWMutex
	subs map[chan rawEvent]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[chan rawEvent]struct{})}
}

func (b *broker) subscribe() chan rawEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan rawEvent, 256)
	b.subs[ch] = struct{}{}
	return ch
}

func (b *broker) unsubscribe(ch chan rawEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broker) publish(ev rawEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber buffer full, skip
		}
	}
}
