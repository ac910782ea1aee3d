// Package trees is the adapter between the node's set of Banyan
// forests (pkg/banyan) and everything else: it owns the map from
// StreamId to tree, the one-alias-per-stream naming scheme, the
// publish-side emit API, and the subscribe-side fan-out. Change
// notification — fanning out the events pkg/banyan's Import reports
// as new when a remote stream's root advances — and ephemeral-stream
// horizon computation both live here rather than in pkg/banyan, since
// both need the cross-stream bookkeeping a single tree doesn't have.
//
// The pub/sub shape uses a buffered channel per subscriber: broadcast
// is non-blocking and drops on a full buffer rather than stalling the
// publisher. The periodic pack loop uses the same ticker-driven
// run loop.
package trees
