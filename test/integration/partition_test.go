package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/types"
)

// A and B start disconnected and each emit independently; once
// bootstrapped against each other they converge on the full set of
// events from both, each stream's own order intact.
func TestPartitionHealing(t *testing.T) {
	keyPath := sharedSwarmKeyPath(t, t.TempDir())

	a := newTestNode(t, keyPath, nil)
	b := newTestNode(t, keyPath, nil)

	for i := 0; i < 10; i++ {
		_, err := a.Trees().Emit(0, types.NewTagSet("m"), cborPayload(t, map[string]interface{}{"i": i}))
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := b.Trees().Emit(0, types.NewTagSet("m"), cborPayload(t, map[string]interface{}{"i": i}))
		require.NoError(t, err)
	}

	aStream := types.StreamId{Node: a.NodeID(), Stream: 0}
	bStream := types.StreamId{Node: b.NodeID(), Stream: 0}

	// Reconnect: point each node's discovery at the other's.
	addDiscoveryPeer(t, a, discoveryAddr(b))
	addDiscoveryPeer(t, b, discoveryAddr(a))

	require.Eventually(t, func() bool {
		aOff, aOK := b.Trees().NextOffset(aStream)
		bOff, bOK := a.Trees().NextOffset(bStream)
		return aOK && aOff == 10 && bOK && bOff == 5
	}, 5*seconds, 20*time.Millisecond, "both nodes should converge on all 15 events after reconnecting")

	aOff, _ := b.Trees().NextOffset(aStream)
	bOff, _ := a.Trees().NextOffset(bStream)
	require.EqualValues(t, 10, aOff)
	require.EqualValues(t, 5, bOff)
}
