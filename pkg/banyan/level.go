package banyan

import "hash/fnv"

// maxLevel bounds the tree height regardless of hash luck; in
// practice no stream gets anywhere near this deep.
const maxLevel = 32

// skipLevel deterministically assigns a leaf (or branch) its level in
// the tree from a rolling hash of its CID: the number of trailing
// zero bits in the hash, capped at maxLevel. This is the same
// content-defined leveling used by hash-based skip lists and Merkle
// search trees — the resulting shape depends only on the set of
// sealed block CIDs, never on the order they were appended in.
func skipLevel(cidStr string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(cidStr))
	sum := h.Sum64()
	if sum == 0 {
		return maxLevel
	}
	level := 0
	for sum&1 == 0 && level < maxLevel {
		sum >>= 1
		level++
	}
	return level
}

// groupByLevel partitions an ordered sequence of childRefs into runs
// that will each become one branch at the given level. A run closes
// (and a new one starts) right after an item whose skip-level exceeds
// level; items whose skip-level equals level coalesce into the
// current run rather than starting a new one.
func groupByLevel(items []childRef, level int) [][]childRef {
	var groups [][]childRef
	var run []childRef

	for _, it := range items {
		run = append(run, it)
		if skipLevel(it.CID) > level {
			groups = append(groups, run)
			run = nil
		}
	}
	if len(run) > 0 {
		groups = append(groups, run)
	}
	return groups
}
