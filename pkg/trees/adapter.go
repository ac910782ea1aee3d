package trees

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/metrics"
	"github.com/cuemby/actyx/pkg/types"
)

// RetentionPolicy bounds how many trailing events an ephemeral stream
// keeps; Pack discards everything older than the resulting horizon.
// A zero MaxEvents means the stream is not ephemeral: nothing is ever
// packed away.
type RetentionPolicy struct {
	MaxEvents uint64
}

// Config configures an Adapter.
type Config struct {
	LocalNode types.NodeId
	Tree      banyan.Config
	// LamportNow returns the Lamport clock value to stamp a locally
	// emitted event with; owned by pkg/swarm.
	LamportNow func() uint64
}

// Adapter owns every Banyan tree this node knows about — its own
// streams and any replica it has imported from the swarm — and is the
// single place emit/subscribe/import go through.
type Adapter struct {
	cfg Config
	bs  *blockstore.Store

	mu        sync.RWMutex
	trees     map[types.StreamId]*banyan.Tree
	retention map[types.StreamId]RetentionPolicy

	broker *broker
}

// New builds an Adapter backed by bs.
func New(bs *blockstore.Store, cfg Config) *Adapter {
	if cfg.LamportNow == nil {
		cfg.LamportNow = func() uint64 { return 0 }
	}
	return &Adapter{
		cfg:       cfg,
		bs:        bs,
		trees:     make(map[types.StreamId]*banyan.Tree),
		retention: make(map[types.StreamId]RetentionPolicy),
		broker:    newBroker(),
	}
}

const aliasPrefix = "stream/"

func aliasName(stream types.StreamId) string {
	return fmt.Sprintf("%s%s/%d", aliasPrefix, stream.Node, stream.Stream)
}

func parseAliasName(name string) (types.StreamId, bool) {
	rest := strings.TrimPrefix(name, aliasPrefix)
	if rest == name {
		return types.StreamId{}, false
	}
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return types.StreamId{}, false
	}
	num, err := strconv.ParseUint(rest[idx+1:], 10, 64)
	if err != nil {
		return types.StreamId{}, false
	}
	return types.StreamId{Node: types.NodeId(rest[:idx]), Stream: num}, true
}

// Rehydrate reopens every stream this node has previously aliased in
// the block store, so KnownStreams and Subscribe see them immediately
// after a restart instead of only once something touches them. It
// returns the number of streams reopened.
func (a *Adapter) Rehydrate() (int, error) {
	names, err := a.bs.ListAliases(aliasPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list stream aliases: %w", err)
	}
	n := 0
	for _, name := range names {
		stream, ok := parseAliasName(name)
		if !ok {
			continue
		}
		if _, err := a.treeFor(stream); err != nil {
			return n, fmt.Errorf("failed to rehydrate stream %s: %w", stream, err)
		}
		n++
	}
	return n, nil
}

// SetRetention marks stream as ephemeral with the given policy, or
// removes ephemeral treatment if policy.MaxEvents is zero.
func (a *Adapter) SetRetention(stream types.StreamId, policy RetentionPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if policy.MaxEvents == 0 {
		delete(a.retention, stream)
		return
	}
	a.retention[stream] = policy
}

func (a *Adapter) treeFor(stream types.StreamId) (*banyan.Tree, error) {
	a.mu.RLock()
	t, ok := a.trees[stream]
	a.mu.RUnlock()
	if ok {
		return t, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.trees[stream]; ok {
		return t, nil
	}
	t, err := banyan.New(stream, a.bs, aliasName(stream), a.cfg.Tree)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree for %s: %w", stream, err)
	}
	a.trees[stream] = t
	return t, nil
}

// Emit appends an event to one of this node's own streams and
// publishes it to live subscriptions.
func (a *Adapter) Emit(streamNum uint64, tags types.TagSet, payload []byte) (types.EventKey, error) {
	stream := types.StreamId{Node: a.cfg.LocalNode, Stream: streamNum}
	t, err := a.treeFor(stream)
	if err != nil {
		return types.EventKey{}, err
	}
	key, err := t.Append(tags, payload, a.cfg.LamportNow())
	if err != nil {
		return types.EventKey{}, err
	}
	a.broker.publish(rawEvent{stream: stream, event: types.Event{Key: key, Tags: tags, Payload: payload}})
	return key, nil
}

// ApplyRemoteRoot imports a new root received from the swarm for a
// replica stream and fans out whatever became newly reachable. It
// returns the number of events diffed in.
func (a *Adapter) ApplyRemoteRoot(stream types.StreamId, rootCID string) (int, error) {
	t, err := a.treeFor(stream)
	if err != nil {
		return 0, err
	}
	diffed, err := t.Import(rootCID)
	if err != nil {
		return 0, err
	}
	for _, ev := range diffed {
		a.broker.publish(rawEvent{stream: stream, event: ev})
	}
	if len(diffed) > 0 {
		metrics.EventsIngestedTotal.WithLabelValues(string(stream.Node)).Add(float64(len(diffed)))
	}
	return len(diffed), nil
}

// Snapshot forces stream's pending leaf to seal and returns the
// resulting root CID, for a node about to advertise its streams in a
// gossip heartbeat or respond to an explicit snapshot request.
func (a *Adapter) Snapshot(stream types.StreamId) (string, error) {
	t, err := a.treeFor(stream)
	if err != nil {
		return "", err
	}
	return t.Snapshot()
}

// Cursor returns a lazy sequence over stream restricted to expr and
// [lo, hi], the source stage contract the query runtime evaluates
// bounded queries against.
func (a *Adapter) Cursor(stream types.StreamId, expr types.TagExpr, lo, hi uint64) (*banyan.Cursor, error) {
	t, err := a.treeFor(stream)
	if err != nil {
		return nil, err
	}
	return t.Filter(expr, lo, hi)
}

// RootOf returns stream's current root CID, for inclusion in the next
// gossip heartbeat.
func (a *Adapter) RootOf(stream types.StreamId) (string, bool) {
	a.mu.RLock()
	t, ok := a.trees[stream]
	a.mu.RUnlock()
	if !ok {
		return "", false
	}
	return t.RootCID()
}

// NextOffset returns the offset the next appended or imported event
// on stream would get, i.e. one past the highest offset currently
// known, and whether the stream is known at all.
func (a *Adapter) NextOffset(stream types.StreamId) (uint64, bool) {
	a.mu.RLock()
	t, ok := a.trees[stream]
	a.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return t.NextOffset(), true
}

// KnownStreams returns every stream this node currently has a tree for.
func (a *Adapter) KnownStreams() []types.StreamId {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.StreamId, 0, len(a.trees))
	for s := range a.trees {
		out = append(out, s)
	}
	return out
}

// HorizonFor returns the current pack horizon for an ephemeral
// stream — offsets below it have been (or will be) discarded — and
// whether the stream is ephemeral at all.
func (a *Adapter) HorizonFor(stream types.StreamId) (uint64, bool) {
	a.mu.RLock()
	pol, ok := a.retention[stream]
	t := a.trees[stream]
	a.mu.RUnlock()
	if !ok || t == nil {
		return 0, false
	}
	next := t.NextOffset()
	if next <= pol.MaxEvents {
		return 0, true
	}
	return next - pol.MaxEvents, true
}

// PackAll runs Pack on every ephemeral stream using its current
// horizon. Called periodically by the node supervisor.
func (a *Adapter) PackAll() {
	l := log.WithComponent("trees")
	a.mu.RLock()
	streams := make([]types.StreamId, 0, len(a.retention))
	for s := range a.retention {
		streams = append(streams, s)
	}
	a.mu.RUnlock()

	for _, stream := range streams {
		horizon, ok := a.HorizonFor(stream)
		if !ok {
			continue
		}
		t, err := a.treeFor(stream)
		if err != nil {
			l.Error().Err(err).Str("stream", stream.String()).Msg("failed to open tree for pack")
			continue
		}
		if err := t.Pack(horizon); err != nil {
			l.Error().Err(err).Str("stream", stream.String()).Msg("pack failed")
		}
	}
}
