package integration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/aql"
	"github.com/cuemby/actyx/pkg/types"
)

// A single node emits one event; querying everything it knows about
// returns exactly that event at offset 0 in its own stream.
func TestAppendAndReadBack(t *testing.T) {
	n := newTestNode(t, t.TempDir()+"/swarm.key", nil)

	payload := cborPayload(t, map[string]interface{}{"t": "setState", "s": "idle"})
	key, err := n.Trees().Emit(0, types.NewTagSet("m", "m:press"), payload)
	require.NoError(t, err)
	require.Equal(t, uint64(0), key.Offset)

	q := &aql.Query{Tags: types.All(), Lower: 0, Upper: math.MaxUint64}
	result, err := aql.Run(n.Trees(), q)
	require.NoError(t, err)

	var records []aql.Record
	for {
		rec, ok, err := result.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		records = append(records, rec)
	}

	require.Len(t, records, 1)
	require.Equal(t, uint64(0), records[0].Offset)
	require.Equal(t, types.StreamId{Node: n.NodeID(), Stream: 0}, records[0].Stream)
}
