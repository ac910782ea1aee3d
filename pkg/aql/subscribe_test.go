package aql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

func TestSubscribeUnorderedDeliversMatching(t *testing.T) {
	a := newTestAdapter(t)
	q, err := Parse(`FROM 'x'`)
	require.NoError(t, err)

	live, err := Subscribe(a, q, Unordered, types.OffsetMap{})
	require.NoError(t, err)
	defer live.Close()

	_, err = a.Emit(1, types.NewTagSet("x"), []byte("one"))
	require.NoError(t, err)

	select {
	case out := <-live.Outcomes():
		require.NotNil(t, out.Record.Event)
		assert.Equal(t, []byte("one"), out.Record.Event.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeOrderedMonotonicSortsAcrossStreams(t *testing.T) {
	a := newTestAdapter(t)
	q, err := Parse(`FROM 'x'`)
	require.NoError(t, err)

	live, err := SubscribeWindowed(a, q, OrderedMonotonic, types.OffsetMap{}, 20*time.Millisecond)
	require.NoError(t, err)
	defer live.Close()

	_, err = a.Emit(2, types.NewTagSet("x"), []byte("second-stream"))
	require.NoError(t, err)
	_, err = a.Emit(1, types.NewTagSet("x"), []byte("first-stream"))
	require.NoError(t, err)

	var records []Outcome
	for i := 0; i < 2; i++ {
		select {
		case out := <-live.Outcomes():
			records = append(records, out)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	require.Len(t, records, 2)
	assert.LessOrEqual(t, records[0].Record.Lamport, records[1].Record.Lamport)
}

func TestSubscribeRejectsBoundBelowHorizon(t *testing.T) {
	bs, err := blockstore.NewStore(blockstore.Config{
		DataDir:    t.TempDir(),
		GCInterval: time.Hour,
		Links:      banyan.LinkExtractor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	a := trees.New(bs, trees.Config{LocalNode: "node-a"})
	stream := types.StreamId{Node: "node-a", Stream: 1}
	a.SetRetention(stream, trees.RetentionPolicy{MaxEvents: 1})

	for i := 0; i < 5; i++ {
		_, err := a.Emit(1, types.NewTagSet("x"), []byte("e"))
		require.NoError(t, err)
	}
	a.PackAll()

	q, err := Parse(`FROM 'x'`)
	require.NoError(t, err)

	_, err = Subscribe(a, q, Unordered, types.OffsetMap{stream: 0})
	assert.ErrorIs(t, err, types.ErrBoundBelowHorizon)
}
