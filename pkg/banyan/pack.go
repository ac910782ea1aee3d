package banyan

import (
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/types"
)

// Pack reorganizes the portion of the spine below horizon into fewer,
// larger leaves. It never changes
// an EventKey; it only changes which CIDs exist, orphaning the old
// leaf blocks so the block store's GC reclaims them once this tree's
// alias no longer points at them.
//
// horizon is the offset below which events are eligible for
// repacking — computed by the trees adapter from ephemeral-stream
// retention policy before each call.
func (t *Tree) Pack(horizon uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if horizon == 0 || len(t.spine) == 0 {
		return nil
	}

	splitAt := 0
	for splitAt < len(t.spine) && t.spine[splitAt].MaxOffset < horizon {
		splitAt++
	}
	if splitAt < 2 {
		// fewer than two old leaves: nothing worth coalescing.
		return nil
	}
	old, rest := t.spine[:splitAt], t.spine[splitAt:]

	events, err := t.readRefsLocked(old)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	// Aim for leaves several times the normal target so packing
	// actually reduces the leaf count.
	batches, err := splitToFit(events, t.cfg.ZstdLevel, t.cfg.LeafHardMaxBytes*4)
	if err != nil {
		return err
	}

	packed := make([]childRef, 0, len(batches))
	for _, batch := range batches {
		ref, err := t.commitLeaf(batch)
		if err != nil {
			return err
		}
		packed = append(packed, ref)
	}

	t.spine = append(packed, rest...)
	t.rebuildIndexLocked()
	return t.commitRootLocked()
}

// readRefsLocked decodes every event referenced by refs, in order.
// Used only by Pack, where refs are always leaves from this tree's
// own spine.
func (t *Tree) readRefsLocked(refs []childRef) ([]bufferedEvent, error) {
	var out []bufferedEvent
	for _, ref := range refs {
		c, err := blockstore.ParseCID(ref.CID)
		if err != nil {
			return nil, err
		}
		data, err := t.bs.Get(c)
		if err != nil {
			return nil, err
		}
		l, err := decodeLeaf(data)
		if err != nil {
			return nil, err
		}
		for _, le := range l.Events {
			out = append(out, bufferedEvent{
				lamport: le.Lamport,
				offset:  le.Offset,
				tags:    types.NewTagSet(le.Tags...),
				payload: le.Payload,
			})
		}
	}
	return out, nil
}
