package integration

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/aql"
	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/types"
)

// sharedSwarmKeyPath writes one swarm key to a file under dir and
// returns its path, so every node in a test dials with the same
// shared secret.
func sharedSwarmKeyPath(t *testing.T, dir string) string {
	t.Helper()
	key, err := crypto.GenerateSwarmKey()
	require.NoError(t, err)
	path := filepath.Join(dir, "swarm.key")
	require.NoError(t, crypto.WriteSwarmKeyFile(path, key))
	return path
}

// Node A emits three events. Node B, bootstrapped off A, eventually
// reports A's offset and yields all three events in order.
func TestTwoNodeConvergence(t *testing.T) {
	keyPath := sharedSwarmKeyPath(t, t.TempDir())

	a := newTestNode(t, keyPath, nil)
	for i := 0; i < 3; i++ {
		payload := cborPayload(t, map[string]interface{}{"i": i})
		_, err := a.Trees().Emit(0, types.NewTagSet("m"), payload)
		require.NoError(t, err)
	}
	aStream := types.StreamId{Node: a.NodeID(), Stream: 0}

	b := newTestNode(t, keyPath, []string{discoveryAddr(a)})

	require.Eventually(t, func() bool {
		off, ok := b.Trees().NextOffset(aStream)
		return ok && off == 3
	}, 5*seconds, 20*time.Millisecond, "node b should converge on node a's three events")

	offsets := types.OffsetMap{}
	for _, s := range b.Trees().KnownStreams() {
		if next, ok := b.Trees().NextOffset(s); ok && next > 0 {
			offsets[s] = next - 1
		}
	}
	require.Equal(t, uint64(2), offsets[aStream])

	q := &aql.Query{Tags: types.All("m"), Lower: 0, Upper: math.MaxUint64}
	result, err := aql.Run(b.Trees(), q)
	require.NoError(t, err)

	var got []int
	for {
		rec, ok, err := result.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NotNil(t, rec.Event)
		got = append(got, int(rec.Offset))
	}
	require.Equal(t, []int{0, 1, 2}, got)
}
