// Package types holds the data model shared by every component of an
// actyx node: event identity, stream identity, offset bookkeeping, and
// the tag-expression AST used by both the Banyan forest and the AQL
// query runtime.
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NodeId identifies a node for the lifetime of its keystore. It is the
// hash of the node's Ed25519 public key, hex-encoded.
type NodeId string

func (n NodeId) String() string { return string(n) }

// StreamId is the pair (NodeId, stream number). A node owns all
// streams whose NodeId equals its own; every other stream is a
// read-only replica.
type StreamId struct {
	Node   NodeId
	Stream uint64
}

func (s StreamId) String() string {
	return fmt.Sprintf("%s.%d", s.Node, s.Stream)
}

// MarshalText renders a StreamId the same way String does, so it can
// be used as a JSON object key (encoding/json requires map keys to be
// strings, integers, or encoding.TextMarshaler).
func (s StreamId) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the "<node>.<stream>" form MarshalText produces.
func (s *StreamId) UnmarshalText(text []byte) error {
	str := string(text)
	idx := strings.LastIndex(str, ".")
	if idx < 0 {
		return fmt.Errorf("invalid stream id %q", str)
	}
	num, err := strconv.ParseUint(str[idx+1:], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stream id %q: %w", str, err)
	}
	s.Node = NodeId(str[:idx])
	s.Stream = num
	return nil
}

// EventKey globally identifies one event. Within a stream, Offset is
// strictly contiguous starting at 0; Lamport is strictly increasing.
type EventKey struct {
	Lamport uint64
	Stream  StreamId
	Offset  uint64
}

func (k EventKey) Less(other EventKey) bool {
	if k.Lamport != other.Lamport {
		return k.Lamport < other.Lamport
	}
	if k.Stream.Node != other.Stream.Node {
		return k.Stream.Node < other.Stream.Node
	}
	if k.Stream.Stream != other.Stream.Stream {
		return k.Stream.Stream < other.Stream.Stream
	}
	return k.Offset < other.Offset
}

// TagSet is an unordered set of tags. nil and empty mean "no tags".
type TagSet map[string]struct{}

// NewTagSet builds a TagSet from a slice of tag strings.
func NewTagSet(tags ...string) TagSet {
	ts := make(TagSet, len(tags))
	for _, t := range tags {
		ts[t] = struct{}{}
	}
	return ts
}

func (ts TagSet) Contains(tag string) bool {
	_, ok := ts[tag]
	return ok
}

// Union returns a new TagSet containing tags from both sets.
func (ts TagSet) Union(other TagSet) TagSet {
	out := make(TagSet, len(ts)+len(other))
	for t := range ts {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Subset reports whether every tag in ts is also present in super —
// the check used for the Banyan tag-index invariant (R ⊆ branch.tag-union).
func (ts TagSet) Subset(super TagSet) bool {
	for t := range ts {
		if !super.Contains(t) {
			return false
		}
	}
	return true
}

// Sorted returns the tags in a deterministic order, for encoding.
func (ts TagSet) Sorted() []string {
	out := make([]string, 0, len(ts))
	for t := range ts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (ts TagSet) String() string {
	return "{" + strings.Join(ts.Sorted(), ",") + "}"
}

// Event is a single immutable fact in a stream.
type Event struct {
	Key     EventKey
	Tags    TagSet
	Payload []byte // opaque, self-describing (CBOR-encoded by convention)
}

// OffsetMap maps a StreamId to the highest known offset in that
// stream. It is monotonic: two offset maps admit a point-wise max.
type OffsetMap map[StreamId]uint64

// Get returns the highest known offset for s, or (0, false) if s is
// unknown to this map.
func (m OffsetMap) Get(s StreamId) (uint64, bool) {
	v, ok := m[s]
	return v, ok
}

// Max returns the point-wise max of m and other, never mutating
// either argument.
func (m OffsetMap) Max(other OffsetMap) OffsetMap {
	out := make(OffsetMap, len(m)+len(other))
	for s, o := range m {
		out[s] = o
	}
	for s, o := range other {
		if cur, ok := out[s]; !ok || o > cur {
			out[s] = o
		}
	}
	return out
}

// Clone returns a shallow copy.
func (m OffsetMap) Clone() OffsetMap {
	out := make(OffsetMap, len(m))
	for s, o := range m {
		out[s] = o
	}
	return out
}

// Heartbeat is the gossip payload each node periodically publishes:
// its current root per owned stream plus its Lamport clock.
type Heartbeat struct {
	NodeID  NodeId
	Lamport uint64
	Roots   []StreamRoot
}

// StreamRoot pairs a stream with the CID of its current top Banyan node.
type StreamRoot struct {
	Stream StreamId
	Root   string // CID string form; kept opaque to pkg/types to avoid an import cycle with pkg/blockstore
}

// WantList is a bitswap-like request for blocks by CID.
type WantList struct {
	From  NodeId
	Wants []string
}

// BlockResponse answers one entry of a WantList.
type BlockResponse struct {
	CID      string
	Bytes    []byte
	NotFound bool
}
