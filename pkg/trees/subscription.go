package trees

import (
	"math"
	"sync"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/types"
)

// Subscription is a live, tag-filtered view over every stream an
// Adapter knows about. Within a stream events are always delivered in
// offset order; across streams there is no ordering guarantee unless
// the caller sorts downstream (that cross-stream sort, and the
// associated TimeTravel signal, is the query runtime's job — see
// pkg/aql — not this package's job).
type Subscription struct {
	out  chan types.Event
	raw  chan rawEvent
	expr types.TagExpr

	closeOnce sync.Once
	stopCh    chan struct{}
}

// Subscribe starts a subscription matching expr, catching up from the
// offsets in from before switching to live delivery`).
func (a *Adapter) Subscribe(expr types.TagExpr, from types.OffsetMap) *Subscription {
	sub := &Subscription{
		out:    make(chan types.Event, 256),
		raw:    a.broker.subscribe(),
		expr:   expr,
		stopCh: make(chan struct{}),
	}
	go sub.run(a, from.Clone())
	return sub
}

// Events returns the channel new matching events arrive on.
func (s *Subscription) Events() <-chan types.Event { return s.out }

// Close stops delivery and releases the subscription's broker slot.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
}

func (s *Subscription) run(a *Adapter, watermark types.OffsetMap) {
	defer a.broker.unsubscribe(s.raw)
	defer close(s.out)

	if s.expr.IsEmpty() {
		<-s.stopCh
		return
	}

	if !s.backfill(a, watermark) {
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.raw:
			if !ok {
				return
			}
			lo := watermark[ev.stream]
			if ev.event.Key.Offset < lo {
				continue // already delivered during backfill
			}
			if !s.expr.MatchesTags(ev.event.Tags) {
				continue
			}
			select {
			case s.out <- ev.event:
				watermark[ev.stream] = ev.event.Key.Offset + 1
			case <-s.stopCh:
				return
			}
		}
	}
}

// backfill drains every already-committed matching event from each
// known stream before the subscription switches to live delivery.
// Returns false if the subscription was closed mid-backfill.
func (s *Subscription) backfill(a *Adapter, watermark types.OffsetMap) bool {
	a.mu.RLock()
	trees := make(map[types.StreamId]*banyan.Tree, len(a.trees))
	for stream, t := range a.trees {
		trees[stream] = t
	}
	a.mu.RUnlock()

	for stream, tree := range trees {
		lo := watermark[stream]
		cur, err := tree.Filter(s.expr, lo, math.MaxUint64)
		if err != nil {
			continue
		}
		for {
			ev, ok, err := cur.Next()
			if err != nil || !ok {
				break
			}
			select {
			case s.out <- ev:
				watermark[stream] = ev.Key.Offset + 1
			case <-s.stopCh:
				return false
			}
		}
	}
	return true
}
