package banyan

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cuemby/actyx/pkg/types"
)

// childRef points a branch at one child (a leaf or another branch)
// and carries the conservative summary needed to skip it during a
// filtered descent without fetching it.
type childRef struct {
	CID       string   `cbor:"c"`
	IsLeaf    bool     `cbor:"leaf"`
	Level     int      `cbor:"lvl"`
	MinOffset uint64   `cbor:"lo"`
	MaxOffset uint64   `cbor:"hi"`
	TagUnion  []string `cbor:"tu"`
}

func (c childRef) tagUnion() types.TagSet { return types.NewTagSet(c.TagUnion...) }

// branch is the wire form of an internal tree node: an ordered list
// of children covering disjoint, increasing offset ranges.
type branch struct {
	Children []childRef `cbor:"children"`
}

func (b branch) level() int {
	max := 0
	for _, c := range b.Children {
		if c.Level > max {
			max = c.Level
		}
	}
	return max + 1
}

func (b branch) tagUnion() types.TagSet {
	union := types.NewTagSet()
	for _, c := range b.Children {
		for _, t := range c.TagUnion {
			union[t] = struct{}{}
		}
	}
	return union
}

func (b branch) offsetRange() (lo, hi uint64, ok bool) {
	if len(b.Children) == 0 {
		return 0, 0, false
	}
	lo, hi = b.Children[0].MinOffset, b.Children[0].MaxOffset
	for _, c := range b.Children[1:] {
		if c.MinOffset < lo {
			lo = c.MinOffset
		}
		if c.MaxOffset > hi {
			hi = c.MaxOffset
		}
	}
	return lo, hi, true
}

func encodeBranch(b branch) ([]byte, error) {
	data, err := cbor.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode branch: %w", err)
	}
	return data, nil
}

func decodeBranch(data []byte) (branch, error) {
	var b branch
	if err := cbor.Unmarshal(data, &b); err != nil {
		return branch{}, fmt.Errorf("failed to decode branch: %w", err)
	}
	return b, nil
}
