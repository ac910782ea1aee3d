package banyan

import (
	"sync"

	"github.com/google/btree"
	"github.com/ipfs/go-cid"

	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/types"
)

// Config tunes the leaf sizing and compression Append uses to decide
// when a pending leaf is sealed.
type Config struct {
	LeafTargetBytes int64
	LeafHardMaxBytes int64
	ZstdLevel        int
}

func (c Config) withDefaults() Config {
	if c.LeafTargetBytes <= 0 {
		c.LeafTargetBytes = 64 * 1024
	}
	if c.LeafHardMaxBytes <= 0 {
		c.LeafHardMaxBytes = 1024 * 1024
	}
	if c.ZstdLevel <= 0 {
		c.ZstdLevel = 3
	}
	return c
}

type bufferedEvent struct {
	lamport uint64
	offset  uint64
	tags    types.TagSet
	payload []byte
}

// summaryItem is the btree.Item wrapping a top-level childRef in
// spineIndex, an offset-ordered index of the current spine. Cursor
// descends from rootRef and does not consult this index.
type summaryItem struct {
	ref childRef
}

func (a summaryItem) Less(than btree.Item) bool {
	b := than.(summaryItem)
	return a.ref.MinOffset < b.ref.MinOffset
}

// Tree is one stream's Banyan tree: for a locally-owned stream it
// buffers and seals new leaves on Append; for a replica stream it is
// only ever updated via Import.
type Tree struct {
	stream types.StreamId
	bs     *blockstore.Store
	cfg    Config
	alias  string

	mu         sync.Mutex
	pending    []bufferedEvent
	pendingRaw int64
	nextOffset uint64
	spine      []childRef // current ordered top-level children, root == buildLevels(spine)
	rootRef    *childRef
	spineIndex *btree.BTree
}

// New opens (or initializes) the tree for stream, using aliasName as
// its block-store alias. If the alias already resolves to a root, the
// tree rehydrates its spine from it.
func New(stream types.StreamId, bs *blockstore.Store, aliasName string, cfg Config) (*Tree, error) {
	t := &Tree{
		stream: stream,
		bs:     bs,
		cfg:    cfg.withDefaults(),
		alias:  aliasName,
	}

	root, ok, err := bs.ResolveAlias(aliasName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return t, nil
	}
	spine, err := t.flattenRoot(root)
	if err != nil {
		return nil, err
	}
	t.spine = spine
	t.rebuildIndexLocked()
	ref := childRef{CID: root.String()}
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
	return t, nil
}

// LinkExtractor returns the callback pkg/blockstore GC uses to walk a
// tree's DAG: branches point at children, leaves are terminal.
func LinkExtractor() blockstore.LinkExtractor {
	return func(data []byte) ([]cid.Cid, error) {
		if isLikelyLeaf(data) {
			return nil, nil
		}
		b, err := decodeBranch(data)
		if err != nil {
			return nil, err
		}
		out := make([]cid.Cid, 0, len(b.Children))
		for _, c := range b.Children {
			parsed, err := blockstore.ParseCID(c.CID)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed)
		}
		return out, nil
	}
}

// Append buffers one event and seals the pending leaf once it
// reaches its target size.
func (t *Tree) Append(tags types.TagSet, payload []byte, lamport uint64) (types.EventKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	offset := t.nextOffset
	t.nextOffset++

	t.pending = append(t.pending, bufferedEvent{lamport: lamport, offset: offset, tags: tags, payload: payload})
	t.pendingRaw += int64(len(payload)) + 32

	if t.pendingRaw >= t.cfg.LeafTargetBytes {
		if err := t.sealLocked(); err != nil {
			return types.EventKey{}, err
		}
	}

	return types.EventKey{Lamport: lamport, Stream: t.stream, Offset: offset}, nil
}

// sealLocked encodes the pending leaf, splitting it if it would
// exceed the hard max, commits the resulting block(s), and rebuilds
// the spine.
func (t *Tree) sealLocked() error {
	if len(t.pending) == 0 {
		return nil
	}
	batches, err := splitToFit(t.pending, t.cfg.ZstdLevel, t.cfg.LeafHardMaxBytes)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		ref, err := t.commitLeaf(batch)
		if err != nil {
			return err
		}
		t.spine = append(t.spine, ref)
	}

	t.pending = nil
	t.pendingRaw = 0
	t.rebuildIndexLocked()
	return t.commitRootLocked()
}

func (t *Tree) commitLeaf(batch []bufferedEvent) (childRef, error) {
	l := leaf{Events: toLeafEvents(batch)}
	data, err := encodeLeaf(l, t.cfg.ZstdLevel)
	if err != nil {
		return childRef{}, err
	}
	c, err := t.bs.Put(data)
	if err != nil {
		return childRef{}, err
	}
	lo, hi, _ := l.offsetRange()
	return childRef{
		CID:       c.String(),
		IsLeaf:    true,
		Level:     0,
		MinOffset: lo,
		MaxOffset: hi,
		TagUnion:  l.tagUnion().Sorted(),
	}, nil
}

// commitRootLocked rebuilds the full tree from the spine and updates
// the block store alias. Packing (see Pack) is what keeps this from
// growing unbounded; a fresh rebuild on every seal keeps the
// implementation simple at the cost of redoing branch work that could
// be cached — acceptable since branches, unlike leaves, are cheap to
// re-encode.
func (t *Tree) commitRootLocked() error {
	if len(t.spine) == 0 {
		return t.bs.Alias(t.alias, nil)
	}
	root, err := t.sealBranchesLocked(t.spine)
	if err != nil {
		return err
	}
	t.rootRef = &root
	c, err := blockstore.ParseCID(root.CID)
	if err != nil {
		return err
	}
	return t.bs.Alias(t.alias, &c)
}

func (t *Tree) sealBranchesLocked(items []childRef) (childRef, error) {
	if len(items) == 1 {
		return items[0], nil
	}
	level := 0
	for len(items) > 1 {
		groups := groupByLevel(items, level)
		next := make([]childRef, 0, len(groups))
		for _, g := range groups {
			if len(g) == 1 {
				next = append(next, g[0])
				continue
			}
			ref, err := t.commitBranch(g)
			if err != nil {
				return childRef{}, err
			}
			next = append(next, ref)
		}
		items = next
		level++
	}
	return items[0], nil
}

func (t *Tree) commitBranch(children []childRef) (childRef, error) {
	b := branch{Children: children}
	data, err := encodeBranch(b)
	if err != nil {
		return childRef{}, err
	}
	c, err := t.bs.Put(data)
	if err != nil {
		return childRef{}, err
	}
	lo, hi, _ := b.offsetRange()
	return childRef{
		CID:       c.String(),
		IsLeaf:    false,
		Level:     b.level(),
		MinOffset: lo,
		MaxOffset: hi,
		TagUnion:  b.tagUnion().Sorted(),
	}, nil
}

// flattenRoot walks a root CID down to its top-level children,
// reusing whatever the encoding already stored rather than
// recomputing summaries.
func (t *Tree) flattenRoot(root cid.Cid) ([]childRef, error) {
	data, err := t.bs.Get(root)
	if err != nil {
		return nil, err
	}
	if isLikelyLeaf(data) {
		l, err := decodeLeaf(data)
		if err != nil {
			return nil, err
		}
		lo, hi, _ := l.offsetRange()
		return []childRef{{
			CID:       root.String(),
			IsLeaf:    true,
			Level:     0,
			MinOffset: lo,
			MaxOffset: hi,
			TagUnion:  l.tagUnion().Sorted(),
		}}, nil
	}
	b, err := decodeBranch(data)
	if err != nil {
		return nil, err
	}
	return b.Children, nil
}

func (t *Tree) rebuildIndexLocked() {
	idx := btree.New(32)
	for _, ref := range t.spine {
		idx.ReplaceOrInsert(summaryItem{ref: ref})
	}
	t.spineIndex = idx
}

func spineRange(spine []childRef) (lo, hi uint64, ok bool) {
	if len(spine) == 0 {
		return 0, 0, false
	}
	lo, hi = spine[0].MinOffset, spine[0].MaxOffset
	for _, c := range spine[1:] {
		if c.MinOffset < lo {
			lo = c.MinOffset
		}
		if c.MaxOffset > hi {
			hi = c.MaxOffset
		}
	}
	return lo, hi, true
}

// NextOffset returns the offset the next locally-appended event would
// receive, i.e. one past the highest offset this tree knows about.
func (t *Tree) NextOffset() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextOffset
}

// RootCID returns the tree's current committed root, and false if
// nothing has been sealed yet.
func (t *Tree) RootCID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rootRef == nil {
		return "", false
	}
	return t.rootRef.CID, true
}

// Snapshot forces any buffered leaf to seal and returns the resulting
// root CID as a string, or "" if the tree is empty.
func (t *Tree) Snapshot() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sealLocked(); err != nil {
		return "", err
	}
	if t.rootRef == nil {
		return "", nil
	}
	return t.rootRef.CID, nil
}

// splitToFit groups buffered events into batches whose encoded leaf
// fits within hardMax, halving repeatedly when a batch overshoots.
func splitToFit(events []bufferedEvent, zstdLevel int, hardMax int64) ([][]bufferedEvent, error) {
	data, err := encodeLeaf(leaf{Events: toLeafEvents(events)}, zstdLevel)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= hardMax || len(events) <= 1 {
		return [][]bufferedEvent{events}, nil
	}
	mid := len(events) / 2
	left, err := splitToFit(events[:mid], zstdLevel, hardMax)
	if err != nil {
		return nil, err
	}
	right, err := splitToFit(events[mid:], zstdLevel, hardMax)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

