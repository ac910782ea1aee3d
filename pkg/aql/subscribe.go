package aql

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

// Mode selects one of the two live subscription delivery orders.
type Mode int

const (
	// Unordered delivers matching events as soon as they are known,
	// in per-stream offset order but with no cross-stream guarantee.
	Unordered Mode = iota
	// OrderedMonotonic delivers events in a single Lamport-sorted
	// sequence across every matching stream, at the cost of a short
	// reorder buffer.
	OrderedMonotonic
)

// DefaultOrderWindow is how long OrderedMonotonic buffers arrivals
// before releasing them in Lamport order, to let a few concurrently
// emitted events from different streams settle into order.
const DefaultOrderWindow = 50 * time.Millisecond

// Outcome is one item delivered by a Live subscription: either a
// Record or a signal that a late arrival broke the monotonic order
// the caller asked for.
type Outcome struct {
	Record    Record
	TimeTravel bool
}

// Live is a running subscription evaluating q over an Adapter's
// events as they are emitted or imported.
type Live struct {
	sub  *trees.Subscription
	q    *Query
	mode Mode
	win  time.Duration

	out    chan Outcome
	stopCh chan struct{}
	once   sync.Once
}

// Subscribe starts a live query with the default reorder window. See
// SubscribeWindowed.
func Subscribe(adapter *trees.Adapter, q *Query, mode Mode, from types.OffsetMap) (*Live, error) {
	return SubscribeWindowed(adapter, q, mode, from, DefaultOrderWindow)
}

// SubscribeWindowed starts a live query. from is the per-stream offset
// watermark to resume from, same contract as trees.Adapter.Subscribe.
// window bounds how long OrderedMonotonic buffers arrivals before
// releasing them in Lamport order; it is ignored in Unordered mode.
// It returns ErrBoundBelowHorizon if from asks for a lower bound the
// adapter has already packed away on some matching ephemeral stream.
func SubscribeWindowed(adapter *trees.Adapter, q *Query, mode Mode, from types.OffsetMap, window time.Duration) (*Live, error) {
	for _, stream := range adapter.KnownStreams() {
		horizon, ok := adapter.HorizonFor(stream)
		if !ok {
			continue
		}
		lo, _ := from.Get(stream)
		if lo < horizon {
			return nil, types.ErrBoundBelowHorizon
		}
	}

	l := &Live{
		sub:    adapter.Subscribe(q.Tags, from),
		q:      q,
		mode:   mode,
		win:    window,
		out:    make(chan Outcome, 256),
		stopCh: make(chan struct{}),
	}
	if mode == OrderedMonotonic {
		go l.runOrdered()
	} else {
		go l.runUnordered()
	}
	return l, nil
}

// Outcomes returns the channel delivered records (and TimeTravel
// signals, for OrderedMonotonic) arrive on.
func (l *Live) Outcomes() <-chan Outcome { return l.out }

// Close stops delivery and releases the underlying tree subscription.
func (l *Live) Close() {
	l.once.Do(func() {
		close(l.stopCh)
		l.sub.Close()
	})
}

func (l *Live) matchesAndProject(ev types.Event) (Record, bool) {
	if l.q.Where != nil {
		payload, ok := decodePayload(ev.Payload)
		if !ok || !evalPredicate(l.q.Where, payload) {
			return Record{}, false
		}
	}
	rec := Record{Stream: ev.Key.Stream, Offset: ev.Key.Offset, Lamport: ev.Key.Lamport}
	if len(l.q.Select) == 0 {
		e := ev
		rec.Event = &e
		return rec, true
	}
	payload, _ := decodePayload(ev.Payload)
	fields := make(map[string]interface{}, len(l.q.Select))
	for _, item := range l.q.Select {
		val, _ := lookupPath(payload, item.Path)
		fields[item.As] = val
	}
	rec.Fields = fields
	return rec, true
}

func (l *Live) runUnordered() {
	defer close(l.out)
	for {
		select {
		case ev, ok := <-l.sub.Events():
			if !ok {
				return
			}
			rec, matched := l.matchesAndProject(ev)
			if !matched {
				continue
			}
			select {
			case l.out <- Outcome{Record: rec}:
			case <-l.stopCh:
				return
			}
		case <-l.stopCh:
			return
		}
	}
}

// runOrdered buffers arrivals for l.win before releasing them in
// Lamport order. An event whose Lamport falls at or below the last
// released value arrives too late to reorder into its place; it is
// reported as a TimeTravel outcome instead of a Record so the caller
// can decide whether to replay.
func (l *Live) runOrdered() {
	defer close(l.out)

	h := &eventHeap{}
	var lastLamport uint64
	haveLast := false

	type buffered struct {
		ev       types.Event
		deadline time.Time
	}
	var queue []buffered

	flush := func(now time.Time) {
		// release everything whose window has elapsed, in Lamport order
		var ready []types.Event
		var rest []buffered
		for _, b := range queue {
			if !b.deadline.After(now) {
				ready = append(ready, b.ev)
			} else {
				rest = append(rest, b)
			}
		}
		queue = rest
		for _, ev := range ready {
			heap.Push(h, ev)
		}
		for h.Len() > 0 {
			ev := heap.Pop(h).(types.Event)
			rec, matched := l.matchesAndProject(ev)
			if haveLast && ev.Key.Lamport <= lastLamport {
				if matched {
					select {
					case l.out <- Outcome{TimeTravel: true, Record: rec}:
					case <-l.stopCh:
						return
					}
				}
				continue
			}
			lastLamport = ev.Key.Lamport
			haveLast = true
			if !matched {
				continue
			}
			select {
			case l.out <- Outcome{Record: rec}:
			case <-l.stopCh:
				return
			}
		}
	}

	ticker := time.NewTicker(l.win)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-l.sub.Events():
			if !ok {
				flush(time.Now().Add(time.Hour))
				return
			}
			queue = append(queue, buffered{ev: ev, deadline: time.Now().Add(l.win)})
		case now := <-ticker.C:
			flush(now)
		case <-l.stopCh:
			return
		}
	}
}

type eventHeap []types.Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	return h[i].Key.Lamport < h[j].Key.Lamport
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(types.Event))
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
