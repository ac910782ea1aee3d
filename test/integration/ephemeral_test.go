package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/aql"
	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

// A stream configured to retain only its most recent event gets its
// horizon advanced past offset 0 once a second event arrives and the
// stream is packed; a subscription asking to resume from offset 0
// then reports the horizon has moved past it.
func TestEphemeralPruningAdvancesHorizon(t *testing.T) {
	n := newTestNode(t, t.TempDir()+"/swarm.key", nil)
	stream := types.StreamId{Node: n.NodeID(), Stream: 0}

	n.Trees().SetRetention(stream, trees.RetentionPolicy{MaxEvents: 1})

	_, err := n.Trees().Emit(0, types.NewTagSet("m"), cborPayload(t, map[string]interface{}{"i": 0}))
	require.NoError(t, err)
	_, err = n.Trees().Emit(0, types.NewTagSet("m"), cborPayload(t, map[string]interface{}{"i": 1}))
	require.NoError(t, err)

	n.Trees().PackAll()

	horizon, ok := n.Trees().HorizonFor(stream)
	require.True(t, ok)
	require.Greater(t, horizon, uint64(0))

	q := &aql.Query{Tags: types.All("m")}
	_, err = aql.Subscribe(n.Trees(), q, aql.Unordered, types.OffsetMap{stream: 0})
	require.ErrorIs(t, err, types.ErrBoundBelowHorizon)
}
