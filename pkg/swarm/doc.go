// Package swarm is a node's peer-to-peer edge: it discovers other
// nodes, maintains a small set of long-lived encrypted connections to
// them, exchanges gossip heartbeats carrying stream roots, and serves
// bitswap-like want-lists against the local block store.
//
// None of this is a consensus protocol. Peers are independent and a
// swarm has no notion of membership beyond "nodes sharing a swarm
// key that can currently reach each other" — state converges by
// gossip and replay, never by vote.
//
// The pieces, each addressing a distinct concern even though the
// transport here is new:
//
//   - Discovery (discovery.go) answers and sends UDP queries built on
//     github.com/miekg/dns, the same library and server/mux shape an
//     embedded DNS service would use.
//   - Peer (peer.go) tracks one remote node's connection state machine,
//     its doubling reconnect backoff, and an EWMA-smoothed RTT.
//   - conn.go owns the framed, swarm-key-encrypted byte stream to one
//     peer and its read loop.
//   - Gossip (heartbeat.go) is a ticker+stopCh loop, the same shape
//     used for background worker and reconciliation loops.
//   - Exchange (exchange.go) answers and issues want-lists against
//     pkg/blockstore, under one swarm-wide frame rate limiter and a
//     per-peer cap on outstanding wants.
//   - Clock (lamport.go) is the node-wide Lamport counter that feeds
//     pkg/trees' LamportNow and is bumped on every received heartbeat.
package swarm
