// Package config holds the two on-disk configuration surfaces a node
// reads: the JSON settings tree at <data-dir>/settings,
// and a YAML node/swarm config (bind address, bootstrap peers, swarm
// key path, Banyan leaf sizing, gossip interval) supplied at startup.
// Settings support hot reload: a fsnotify watch on the settings file
// pushes updates to subscribers without a restart.
package config
