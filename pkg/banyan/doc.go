// Package banyan implements the per-stream persistent tagged tree
// described here: events are buffered into an in-memory
// leaf, sealed and CBOR+zstd encoded once the leaf reaches its target
// size, and committed to the block store (pkg/blockstore). Branches
// form bottom-up with a level assigned by a rolling hash of each
// sealed leaf's CID, so the tree's shape is a function of its content,
// not the order leaves were written in — two nodes that received the
// same events in different orders converge to the same root.
//
// The Apply/Snapshot/Restore shape here echoes a Raft FSM in spirit:
// Append plays the role of Apply (mutate owned state from an
// external command), Snapshot plays the role of the FSM snapshot (a
// stable point-in-time root CID), and Import plays the role of
// Restore (rehydrate local state from a durable encoding received
// from elsewhere) — but none of it runs over a Raft log; every tree is
// purely local and reconciled by gossip, not consensus.
package banyan
