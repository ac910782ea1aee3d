// Package node wires a node's storage, tree, and swarm layers into a
// single supervised process: it owns the startup order (keystore,
// block store, tree adapter rehydration, swarm), the shutdown order
// (the reverse, each step bounded by a drain timer), and converts any
// unhandled panic in the run loop into a logged, clean process exit
// rather than a corrupted half-started node — the same config-struct
// constructor and ordered bring-up shape the cluster manager used for
// its own raft/store/broker wiring, generalized to a single-process
// swarm member instead of a cluster leader.
package node
