package banyan

import (
	"github.com/ipfs/go-cid"

	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/types"
)

// Import updates a replica tree to a new root received from the
// swarm`). It returns the events
// newly reachable between the old and new root — the diff the trees
// adapter uses to fan out to live subscriptions.
//
// Partial graphs are tolerated: if a referenced child block hasn't
// arrived yet, the diff simply stops descending into it; the caller
// will see the rest once the swarm delivers the missing block and
// Import is called again with the same root.
func (t *Tree) Import(rootCID string) ([]types.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRoot, err := blockstore.ParseCID(rootCID)
	if err != nil {
		return nil, err
	}

	var oldOffset uint64
	var oldRootCID string
	if t.rootRef != nil {
		oldRootCID = t.rootRef.CID
		_, hi, has := spineRange(t.spine)
		if has {
			oldOffset = hi + 1
		}
	}
	if oldRootCID == newRoot.String() {
		return nil, nil
	}

	events, err := t.diff(oldOffset, newRoot)
	if err != nil {
		return nil, err
	}

	spine, err := t.flattenRoot(newRoot)
	if err != nil {
		return nil, err
	}
	t.spine = spine
	t.rebuildIndexLocked()
	ref := childRef{CID: newRoot.String()}
	if len(spine) == 1 && spine[0].CID == ref.CID {
		ref = spine[0]
	} else {
		b := branch{Children: spine}
		lo, hi, _ := b.offsetRange()
		ref = childRef{CID: ref.CID, Level: b.level(), MinOffset: lo, MaxOffset: hi, TagUnion: b.tagUnion().Sorted()}
	}
	t.rootRef = &ref
	if _, hi, has := spineRange(spine); has {
		t.nextOffset = hi + 1
	}
	return events, nil
}

// diff walks newRoot collecting every event with offset >= sinceOffset
//, using the conservative offset range on
// each childRef to skip already-known subtrees entirely.
func (t *Tree) diff(sinceOffset uint64, newRoot cid.Cid) ([]types.Event, error) {
	var out []types.Event
	stack := []frame{{children: []childRef{{CID: newRoot.String()}}}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.idx >= len(top.children) {
			stack = stack[:len(stack)-1]
			continue
		}
		ref := top.children[top.idx]
		top.idx++

		c, err := blockstore.ParseCID(ref.CID)
		if err != nil {
			return nil, err
		}
		blockData, err := t.bs.Get(c)
		if err != nil {
			continue // block not yet fetched by swarm; skip for now
		}

		if isLikelyLeaf(blockData) {
			l, err := decodeLeaf(blockData)
			if err != nil {
				return nil, err
			}
			_, hi, has := l.offsetRange()
			if !has || hi < sinceOffset {
				continue
			}
			for _, ev := range fromLeafEvents(t.stream, l.Events) {
				if ev.Key.Offset >= sinceOffset {
					out = append(out, ev)
				}
			}
			continue
		}

		b, err := decodeBranch(blockData)
		if err != nil {
			return nil, err
		}
		var children []childRef
		for _, child := range b.Children {
			if child.MaxOffset < sinceOffset {
				continue
			}
			children = append(children, child)
		}
		if len(children) > 0 {
			stack = append(stack, frame{children: children})
		}
	}
	return out, nil
}
