package integration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/aql"
	"github.com/cuemby/actyx/pkg/types"
)

// A node emits events tagged ["x"], ["y"], and ["x","y"]; filtering
// on Tag("x") AND Tag("y") returns exactly the third.
func TestTagFilterConjunction(t *testing.T) {
	n := newTestNode(t, t.TempDir()+"/swarm.key", nil)

	_, err := n.Trees().Emit(0, types.NewTagSet("x"), cborPayload(t, map[string]interface{}{"i": 0}))
	require.NoError(t, err)
	_, err = n.Trees().Emit(0, types.NewTagSet("y"), cborPayload(t, map[string]interface{}{"i": 1}))
	require.NoError(t, err)
	_, err = n.Trees().Emit(0, types.NewTagSet("x", "y"), cborPayload(t, map[string]interface{}{"i": 2}))
	require.NoError(t, err)

	q := &aql.Query{Tags: types.All("x", "y"), Lower: 0, Upper: math.MaxUint64}
	result, err := aql.Run(n.Trees(), q)
	require.NoError(t, err)

	var offsets []uint64
	for {
		rec, ok, err := result.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		offsets = append(offsets, rec.Offset)
	}
	require.Equal(t, []uint64{2}, offsets)
}
