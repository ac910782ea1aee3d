// Package integration exercises a full node (storage, tree, and
// swarm layers wired together by pkg/node) the way a single process
// would run it, rather than unit-testing any one layer in isolation.
package integration

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/node"
)

const seconds = time.Second

var (
	discoveryAddrsMu sync.Mutex
	discoveryAddrs   = map[*node.Node]string{}
)

// discoveryAddr returns the UDP discovery address n's swarm is
// listening on, for use as another node's Bootstrap entry.
func discoveryAddr(n *node.Node) string {
	discoveryAddrsMu.Lock()
	defer discoveryAddrsMu.Unlock()
	return discoveryAddrs[n]
}

// addDiscoveryPeer introduces addr to n's swarm at runtime, the way
// an operator reconnecting a healed partition would.
func addDiscoveryPeer(t *testing.T, n *node.Node, addr string) {
	t.Helper()
	n.Swarm().AddBootstrapPeer(addr)
}

// freeAddr asks the OS for an unused TCP port on loopback and returns
// "127.0.0.1:<port>" without holding the listener open.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// freeUDPAddr is freeAddr's UDP counterpart, used for discovery bind
// addresses.
func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

// newTestNode brings up a fully running node (storage, tree adapter,
// swarm) sharing swarmKeyPath with any other node in the same test.
// bootstrap lists the discovery addresses of peers to dial on start.
func newTestNode(t *testing.T, swarmKeyPath string, bootstrap []string) *node.Node {
	t.Helper()

	cfg := node.Config{
		DataDir:           t.TempDir(),
		Passphrase:        "integration-test",
		ListenAddr:        freeAddr(t),
		DiscoveryBindAddr: freeUDPAddr(t),
		Bootstrap:         bootstrap,
		SwarmKeyPath:      swarmKeyPath,

		Tree: banyan.Config{
			LeafTargetBytes:  64 * 1024,
			LeafHardMaxBytes: 1024 * 1024,
			ZstdLevel:        3,
		},
		GCInterval: time.Hour,

		HeartbeatInterval:     50 * time.Millisecond,
		DiscoveryPollInterval: 50 * time.Millisecond,
	}
	cfg.BindAddr = cfg.ListenAddr

	n, err := node.New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Stop() })

	discoveryAddrsMu.Lock()
	discoveryAddrs[n] = cfg.DiscoveryBindAddr
	discoveryAddrsMu.Unlock()

	return n
}

// cborPayload encodes v the way a real publisher would: CBOR, the
// wire convention every layer above the block store assumes.
func cborPayload(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := cbor.Marshal(v)
	require.NoError(t, err)
	return data
}
