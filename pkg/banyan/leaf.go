package banyan

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/actyx/pkg/types"
)

// leafEvent is the wire form of a single event inside a sealed leaf.
type leafEvent struct {
	Lamport uint64   `cbor:"l"`
	Offset  uint64   `cbor:"o"`
	Tags    []string `cbor:"t"`
	Payload []byte   `cbor:"p"`
}

// leaf is the wire form of a sealed leaf block.
type leaf struct {
	Events []leafEvent `cbor:"e"`
}

func toLeafEvents(events []bufferedEvent) []leafEvent {
	out := make([]leafEvent, len(events))
	for i, ev := range events {
		out[i] = leafEvent{
			Lamport: ev.lamport,
			Offset:  ev.offset,
			Tags:    ev.tags.Sorted(),
			Payload: ev.payload,
		}
	}
	return out
}

func fromLeafEvents(stream types.StreamId, events []leafEvent) []types.Event {
	out := make([]types.Event, len(events))
	for i, le := range events {
		out[i] = types.Event{
			Key: types.EventKey{
				Lamport: le.Lamport,
				Stream:  stream,
				Offset:  le.Offset,
			},
			Tags:    types.NewTagSet(le.Tags...),
			Payload: le.Payload,
		}
	}
	return out
}

// tagUnion computes the conservative tag-union summary of a leaf
//).
func (l leaf) tagUnion() types.TagSet {
	union := types.NewTagSet()
	for _, ev := range l.Events {
		for _, tag := range ev.Tags {
			union[tag] = struct{}{}
		}
	}
	return union
}

func (l leaf) offsetRange() (lo, hi uint64, ok bool) {
	if len(l.Events) == 0 {
		return 0, 0, false
	}
	lo, hi = l.Events[0].Offset, l.Events[0].Offset
	for _, ev := range l.Events[1:] {
		if ev.Offset < lo {
			lo = ev.Offset
		}
		if ev.Offset > hi {
			hi = ev.Offset
		}
	}
	return lo, hi, true
}

func encodeLeaf(l leaf, level int) ([]byte, error) {
	raw, err := cbor.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to encode leaf: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decodeLeaf(data []byte) (leaf, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return leaf{}, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return leaf{}, fmt.Errorf("failed to decompress leaf: %w", err)
	}
	var l leaf
	if err := cbor.Unmarshal(raw, &l); err != nil {
		return leaf{}, fmt.Errorf("failed to decode leaf: %w", err)
	}
	return l, nil
}

func isLikelyLeaf(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
