package trees

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/types"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	bs, err := blockstore.NewStore(blockstore.Config{
		DataDir:    t.TempDir(),
		GCInterval: time.Hour,
		Links:      banyan.LinkExtractor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	var lamport uint64
	return New(bs, Config{
		LocalNode: "node-a",
		LamportNow: func() uint64 {
			lamport++
			return lamport
		},
	})
}

func TestRehydrateReopensPreviouslyAliasedStreams(t *testing.T) {
	bs, err := blockstore.NewStore(blockstore.Config{
		DataDir:    t.TempDir(),
		GCInterval: time.Hour,
		Links:      banyan.LinkExtractor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	a1 := New(bs, Config{LocalNode: "node-a"})
	_, err = a1.Emit(1, types.NewTagSet("x"), []byte("hello"))
	require.NoError(t, err)
	_, err = a1.Emit(2, types.NewTagSet("y"), []byte("world"))
	require.NoError(t, err)
	require.Len(t, a1.KnownStreams(), 2)

	// Alias records only become durable once a stream's pending leaf
	// is sealed; force that so Rehydrate has something to find.
	_, err = a1.Snapshot(types.StreamId{Node: "node-a", Stream: 1})
	require.NoError(t, err)
	_, err = a1.Snapshot(types.StreamId{Node: "node-a", Stream: 2})
	require.NoError(t, err)

	a2 := New(bs, Config{LocalNode: "node-a"})
	require.Empty(t, a2.KnownStreams())

	n, err := a2.Rehydrate()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, a2.KnownStreams(), 2)
}

func TestEmitAssignsSequentialOffsets(t *testing.T) {
	a := newTestAdapter(t)

	k1, err := a.Emit(1, types.NewTagSet("x"), []byte("one"))
	require.NoError(t, err)
	k2, err := a.Emit(1, types.NewTagSet("x"), []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), k1.Offset)
	assert.Equal(t, uint64(1), k2.Offset)
}

func TestSubscribeBackfillsAndTails(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.Emit(1, types.NewTagSet("x"), []byte("before"))
	require.NoError(t, err)

	sub := a.Subscribe(types.All("x"), types.OffsetMap{})
	defer sub.Close()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, []byte("before"), ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for backfilled event")
	}

	_, err = a.Emit(1, types.NewTagSet("x"), []byte("after"))
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, []byte("after"), ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribeFiltersByTag(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Emit(1, types.NewTagSet("keep"), []byte("yes"))
	require.NoError(t, err)
	_, err = a.Emit(1, types.NewTagSet("drop"), []byte("no"))
	require.NoError(t, err)

	sub := a.Subscribe(types.All("keep"), types.OffsetMap{})
	defer sub.Close()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, []byte("yes"), ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHorizonForNonEphemeralStream(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Emit(1, types.NewTagSet("x"), []byte("e"))
	require.NoError(t, err)

	_, ok := a.HorizonFor(types.StreamId{Node: "node-a", Stream: 1})
	assert.False(t, ok)
}

func TestHorizonForEphemeralStream(t *testing.T) {
	a := newTestAdapter(t)
	stream := types.StreamId{Node: "node-a", Stream: 1}
	a.SetRetention(stream, RetentionPolicy{MaxEvents: 2})

	for i := 0; i < 5; i++ {
		_, err := a.Emit(1, types.NewTagSet("x"), []byte("e"))
		require.NoError(t, err)
	}

	horizon, ok := a.HorizonFor(stream)
	require.True(t, ok)
	assert.Equal(t, uint64(3), horizon)
}

func TestApplyRemoteRootFansOutNewEvents(t *testing.T) {
	bs, err := blockstore.NewStore(blockstore.Config{
		DataDir:    t.TempDir(),
		GCInterval: time.Hour,
		Links:      banyan.LinkExtractor(),
	})
	require.NoError(t, err)
	defer bs.Close()

	local := New(bs, Config{LocalNode: "node-a", LamportNow: func() uint64 { return 1 }})
	_, err = local.Emit(1, types.NewTagSet("x"), []byte("remote event"))
	require.NoError(t, err)
	stream := types.StreamId{Node: "node-a", Stream: 1}
	rootCID, err := local.Snapshot(stream)
	require.NoError(t, err)
	require.NotEmpty(t, rootCID)

	remote := New(bs, Config{LocalNode: "node-b"})
	sub := remote.Subscribe(types.All("x"), types.OffsetMap{})
	defer sub.Close()

	n, err := remote.ApplyRemoteRoot(stream, rootCID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, []byte("remote event"), ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for imported event")
	}
}
