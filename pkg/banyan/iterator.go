package banyan

import (
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/types"
)

type frame struct {
	children []childRef
	idx      int
}

// Cursor is the lazy sequence contract: the caller
// pulls one event at a time and the forest keeps at most O(tree-
// height) stack frames live, decoding at most one leaf's worth of
// events at a time.
type Cursor struct {
	tree   *Tree
	filter types.TagExpr
	lo, hi uint64

	stack []frame
	buf   []types.Event
	bufI  int

	pending    []bufferedEvent
	pendingSeen bool

	err error
}

// Read returns a cursor over [lo, hi] with no tag filter`).
func (t *Tree) Read(lo, hi uint64) (*Cursor, error) {
	return t.Filter(types.All(), lo, hi)
}

// Filter returns a cursor over [lo, hi] restricted to events matching expr
//`).
func (t *Tree) Filter(expr types.TagExpr, lo, hi uint64) (*Cursor, error) {
	c := &Cursor{tree: t, filter: expr, lo: lo, hi: hi}
	if lo > hi || expr.IsEmpty() {
		c.pendingSeen = true // short-circuits to empty immediately
		return c, nil
	}

	t.mu.Lock()
	pendingCopy := append([]bufferedEvent(nil), t.pending...)
	root := t.rootRef
	t.mu.Unlock()

	c.pending = pendingCopy
	if root != nil {
		c.stack = []frame{{children: []childRef{*root}}}
	}
	return c, nil
}

// Next returns the next matching event, or ok=false when the cursor
// is exhausted. Once Next returns an error, the cursor is done.
func (c *Cursor) Next() (types.Event, bool, error) {
	if c.err != nil {
		return types.Event{}, false, c.err
	}
	for {
		if c.bufI < len(c.buf) {
			ev := c.buf[c.bufI]
			c.bufI++
			if c.matches(ev) {
				return ev, true, nil
			}
			continue
		}

		if len(c.stack) == 0 {
			if !c.pendingSeen {
				c.pendingSeen = true
				c.buf = bufferedToEvents(c.tree.stream, c.pending)
				c.bufI = 0
				continue
			}
			return types.Event{}, false, nil
		}

		top := &c.stack[len(c.stack)-1]
		if top.idx >= len(top.children) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		ref := top.children[top.idx]
		top.idx++

		if ref.MaxOffset < c.lo || ref.MinOffset > c.hi {
			continue
		}
		if !c.filter.MatchesSummary(ref.tagUnion()) {
			continue
		}

		blockCID, err := blockstore.ParseCID(ref.CID)
		if err != nil {
			c.err = err
			return types.Event{}, false, err
		}
		data, err := c.tree.bs.Get(blockCID)
		if err != nil {
			c.err = err
			return types.Event{}, false, err
		}

		if ref.IsLeaf {
			l, err := decodeLeaf(data)
			if err != nil {
				c.err = err
				return types.Event{}, false, err
			}
			c.buf = fromLeafEvents(c.tree.stream, l.Events)
			c.bufI = 0
		} else {
			b, err := decodeBranch(data)
			if err != nil {
				c.err = err
				return types.Event{}, false, err
			}
			c.stack = append(c.stack, frame{children: b.Children})
		}
	}
}

func (c *Cursor) matches(ev types.Event) bool {
	if ev.Key.Offset < c.lo || ev.Key.Offset > c.hi {
		return false
	}
	return c.filter.MatchesTags(ev.Tags)
}

func bufferedToEvents(stream types.StreamId, events []bufferedEvent) []types.Event {
	out := make([]types.Event, len(events))
	for i, ev := range events {
		out[i] = types.Event{
			Key:     types.EventKey{Lamport: ev.lamport, Stream: stream, Offset: ev.offset},
			Tags:    ev.tags,
			Payload: ev.payload,
		}
	}
	return out
}
