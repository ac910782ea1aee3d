// Package blockstore is the node's content-addressed block storage.
// Blocks are opaque byte strings keyed by CID; a block
// is retained only while it is reachable from an alias or an explicit
// pin. Aliases are how the Banyan forest (pkg/banyan) and the trees
// adapter (pkg/trees) publish a stream's current root: one alias per
// stream, updated atomically and durably on every root change.
//
// Blocks are stored in a SQLite database (modernc.org/sqlite, no cgo)
// rather than a pure key/value store, because it also needs ad-hoc
// queries over aliases and pins during GC mark that a pure key/value
// bucket makes awkward. An in-process LRU (hashicorp/golang-lru)
// fronts the database so hot leaves and branches — the ones a live
// subscription is actively walking — don't round-trip through SQLite
// on every read.
package blockstore
