package banyan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/types"
)

func newTestStore(t *testing.T) *blockstore.Store {
	t.Helper()
	s, err := blockstore.NewStore(blockstore.Config{
		DataDir:    t.TempDir(),
		GCInterval: time.Hour,
		Links:      LinkExtractor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStream() types.StreamId {
	return types.StreamId{Node: "node-a", Stream: 1}
}

func collect(t *testing.T, c *Cursor) []types.Event {
	t.Helper()
	var out []types.Event
	for {
		ev, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestAppendAndReadBack(t *testing.T) {
	bs := newTestStore(t)
	tree, err := New(testStream(), bs, "stream-1", Config{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := tree.Append(types.NewTagSet("a"), []byte("payload"), uint64(i+1))
		require.NoError(t, err)
	}

	cur, err := tree.Read(0, 100)
	require.NoError(t, err)
	events := collect(t, cur)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i), ev.Key.Offset)
	}
}

func TestSealOnTargetSize(t *testing.T) {
	bs := newTestStore(t)
	tree, err := New(testStream(), bs, "stream-1", Config{LeafTargetBytes: 64, LeafHardMaxBytes: 4096, ZstdLevel: 1})
	require.NoError(t, err)

	payload := make([]byte, 40)
	for i := 0; i < 10; i++ {
		_, err := tree.Append(types.NewTagSet("x"), payload, uint64(i+1))
		require.NoError(t, err)
	}

	assert.Greater(t, len(tree.spine), 0)

	root, err := tree.Snapshot()
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestFilterByTag(t *testing.T) {
	bs := newTestStore(t)
	tree, err := New(testStream(), bs, "stream-1", Config{})
	require.NoError(t, err)

	_, err = tree.Append(types.NewTagSet("a"), []byte("1"), 1)
	require.NoError(t, err)
	_, err = tree.Append(types.NewTagSet("b"), []byte("2"), 2)
	require.NoError(t, err)
	_, err = tree.Append(types.NewTagSet("a", "b"), []byte("3"), 3)
	require.NoError(t, err)

	cur, err := tree.Filter(types.All("a"), 0, 100)
	require.NoError(t, err)
	events := collect(t, cur)
	require.Len(t, events, 2)
	assert.Equal(t, []byte("1"), events[0].Payload)
	assert.Equal(t, []byte("3"), events[1].Payload)
}

func TestFilterEmptyExprIsEmptyStream(t *testing.T) {
	bs := newTestStore(t)
	tree, err := New(testStream(), bs, "stream-1", Config{})
	require.NoError(t, err)
	_, err = tree.Append(types.NewTagSet("a"), []byte("1"), 1)
	require.NoError(t, err)

	cur, err := tree.Filter(types.TagExpr{}, 0, 100)
	require.NoError(t, err)
	events := collect(t, cur)
	assert.Empty(t, events)
}

func TestRangeLowerGreaterThanUpperIsEmpty(t *testing.T) {
	bs := newTestStore(t)
	tree, err := New(testStream(), bs, "stream-1", Config{})
	require.NoError(t, err)
	_, err = tree.Append(types.NewTagSet("a"), []byte("1"), 1)
	require.NoError(t, err)

	cur, err := tree.Read(10, 5)
	require.NoError(t, err)
	events := collect(t, cur)
	assert.Empty(t, events)
}

func TestSnapshotPreservesEventKeysAcrossPack(t *testing.T) {
	bs := newTestStore(t)
	tree, err := New(testStream(), bs, "stream-1", Config{LeafTargetBytes: 32, LeafHardMaxBytes: 4096, ZstdLevel: 1})
	require.NoError(t, err)

	var keys []types.EventKey
	for i := 0; i < 20; i++ {
		k, err := tree.Append(types.NewTagSet("a"), make([]byte, 20), uint64(i+1))
		require.NoError(t, err)
		keys = append(keys, k)
	}
	_, err = tree.Snapshot()
	require.NoError(t, err)

	require.NoError(t, tree.Pack(15))

	cur, err := tree.Read(0, 100)
	require.NoError(t, err)
	events := collect(t, cur)
	require.Len(t, events, 20)
	for i, ev := range events {
		assert.Equal(t, keys[i], ev.Key)
	}
}

func TestImportBringsRemoteEventsAndReportsDiff(t *testing.T) {
	bs := newTestStore(t)
	stream := testStream()

	local, err := New(stream, bs, "local-alias", Config{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := local.Append(types.NewTagSet("a"), []byte("e"), uint64(i+1))
		require.NoError(t, err)
	}
	root, err := local.Snapshot()
	require.NoError(t, err)

	remote, err := New(stream, bs, "remote-alias", Config{})
	require.NoError(t, err)

	diffed, err := remote.Import(root)
	require.NoError(t, err)
	assert.Len(t, diffed, 3)

	cur, err := remote.Read(0, 100)
	require.NoError(t, err)
	events := collect(t, cur)
	assert.Len(t, events, 3)
}

func TestImportIsNoOpWhenRootUnchanged(t *testing.T) {
	bs := newTestStore(t)
	stream := testStream()

	local, err := New(stream, bs, "local-alias", Config{})
	require.NoError(t, err)
	_, err = local.Append(types.NewTagSet("a"), []byte("e"), 1)
	require.NoError(t, err)
	root, err := local.Snapshot()
	require.NoError(t, err)

	remote, err := New(stream, bs, "remote-alias", Config{})
	require.NoError(t, err)
	_, err = remote.Import(root)
	require.NoError(t, err)

	diffed, err := remote.Import(root)
	require.NoError(t, err)
	assert.Empty(t, diffed)
}

func TestSkipLevelIsDeterministic(t *testing.T) {
	a := skipLevel("bafyabc123")
	b := skipLevel("bafyabc123")
	assert.Equal(t, a, b)
}
