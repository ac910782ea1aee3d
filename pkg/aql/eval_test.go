package aql

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

func newTestAdapter(t *testing.T) *trees.Adapter {
	t.Helper()
	bs, err := blockstore.NewStore(blockstore.Config{
		DataDir:    t.TempDir(),
		GCInterval: time.Hour,
		Links:      banyan.LinkExtractor(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	var lamport uint64
	return trees.New(bs, trees.Config{
		LocalNode: "node-a",
		LamportNow: func() uint64 {
			lamport++
			return lamport
		},
	})
}

func mustCBOR(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRunFiltersAndProjects(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.Emit(1, types.NewTagSet("temp"), mustCBOR(t, map[string]interface{}{"value": 21.5, "unit": "C"}))
	require.NoError(t, err)
	_, err = a.Emit(1, types.NewTagSet("temp"), mustCBOR(t, map[string]interface{}{"value": 5.0, "unit": "C"}))
	require.NoError(t, err)
	_, err = a.Emit(1, types.NewTagSet("humidity"), mustCBOR(t, map[string]interface{}{"value": 80}))
	require.NoError(t, err)

	q, err := Parse(`FROM 'temp' WHERE payload.value > 10 SELECT payload.value AS v`)
	require.NoError(t, err)

	res, err := Run(a, q)
	require.NoError(t, err)

	rec, ok, err := res.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21.5, rec.Fields["v"])

	_, ok, err = res.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunPassthroughWithoutSelect(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Emit(1, types.NewTagSet("x"), []byte("raw"))
	require.NoError(t, err)

	q, err := Parse(`FROM 'x'`)
	require.NoError(t, err)

	res, err := Run(a, q)
	require.NoError(t, err)
	rec, ok, err := res.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.Event)
	assert.Equal(t, []byte("raw"), rec.Event.Payload)
}

func TestRunBoundsRestrictsOffsetRange(t *testing.T) {
	a := newTestAdapter(t)
	for i := 0; i < 5; i++ {
		_, err := a.Emit(1, types.NewTagSet("x"), mustCBOR(t, map[string]interface{}{"n": i}))
		require.NoError(t, err)
	}

	q, err := Parse(`FROM 'x' BOUNDS 2..3`)
	require.NoError(t, err)
	res, err := Run(a, q)
	require.NoError(t, err)

	var offsets []uint64
	for {
		rec, ok, err := res.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		offsets = append(offsets, rec.Offset)
	}
	assert.Equal(t, []uint64{2, 3}, offsets)
}

func TestRunAggregationCount(t *testing.T) {
	a := newTestAdapter(t)
	for i := 0; i < 4; i++ {
		_, err := a.Emit(1, types.NewTagSet("x"), mustCBOR(t, map[string]interface{}{"n": i}))
		require.NoError(t, err)
	}

	q, err := Parse(`FROM 'x' SELECT COUNT(*) AS n, SUM(payload.n) AS total`)
	require.NoError(t, err)
	res, err := Run(a, q)
	require.NoError(t, err)

	rec, ok, err := res.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), rec.Agg["n"])
	assert.Equal(t, float64(6), rec.Agg["total"])

	_, ok, err = res.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunEmptyTagExprIsEmptyStream(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Emit(1, types.NewTagSet("x"), []byte("x"))
	require.NoError(t, err)

	q := &Query{Tags: types.TagExpr{}, Upper: 0}
	res, err := Run(a, q)
	require.NoError(t, err)
	_, ok, err := res.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}
