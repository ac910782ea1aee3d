package aql

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/types"
)

func TestParseSimpleSource(t *testing.T) {
	q, err := Parse(`FROM 'temperature'`)
	require.NoError(t, err)
	assert.True(t, q.Tags.MatchesTags(types.NewTagSet("temperature")))
	assert.False(t, q.Tags.MatchesTags(types.NewTagSet("humidity")))
	assert.Equal(t, uint64(0), q.Lower)
	assert.Equal(t, uint64(math.MaxUint64), q.Upper)
}

func TestParseTagConjunctionAndDisjunction(t *testing.T) {
	q, err := Parse(`FROM 'a' & 'b' | 'c'`)
	require.NoError(t, err)
	assert.True(t, q.Tags.MatchesTags(types.NewTagSet("a", "b")))
	assert.True(t, q.Tags.MatchesTags(types.NewTagSet("c")))
	assert.False(t, q.Tags.MatchesTags(types.NewTagSet("a")))
}

func TestParseBounds(t *testing.T) {
	q, err := Parse(`FROM 'x' BOUNDS 10..20`)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), q.Lower)
	assert.Equal(t, uint64(20), q.Upper)
}

func TestParseBoundsOpenUpper(t *testing.T) {
	q, err := Parse(`FROM 'x' BOUNDS 5..*`)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), q.Lower)
	assert.Equal(t, uint64(math.MaxUint64), q.Upper)
}

func TestParseWherePredicate(t *testing.T) {
	q, err := Parse(`FROM 'x' WHERE payload.value > 10 AND payload.unit = 'C'`)
	require.NoError(t, err)
	require.NotNil(t, q.Where)
	assert.Equal(t, BoolAnd, q.Where.Combine)
}

func TestParseWhereOrHasLowerPrecedenceThanAnd(t *testing.T) {
	q, err := Parse(`FROM 'x' WHERE payload.a = 1 AND payload.b = 2 OR payload.c = 3`)
	require.NoError(t, err)
	require.NotNil(t, q.Where)
	assert.Equal(t, BoolOr, q.Where.Combine)
	assert.Equal(t, BoolAnd, q.Where.LHS.Combine)
}

func TestParseProjection(t *testing.T) {
	q, err := Parse(`FROM 'x' SELECT payload.value AS v, payload.unit`)
	require.NoError(t, err)
	require.Len(t, q.Select, 2)
	assert.Equal(t, "v", q.Select[0].As)
	assert.Equal(t, []string{"value"}, q.Select[0].Path)
	assert.Equal(t, "unit", q.Select[1].As)
}

func TestParseAggregation(t *testing.T) {
	q, err := Parse(`FROM 'x' SELECT COUNT(*) AS n, SUM(payload.value)`)
	require.NoError(t, err)
	require.Len(t, q.Select, 2)
	assert.Equal(t, AggCount, q.Select[0].Agg)
	assert.Equal(t, "n", q.Select[0].As)
	assert.Equal(t, AggSum, q.Select[1].Agg)
	assert.Equal(t, "sum_value", q.Select[1].As)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse(`FROM 'x' WHAT`)
	assert.Error(t, err)
}

func TestProjectionModeRejectsMixedProjectionAndAggregation(t *testing.T) {
	q, err := Parse(`FROM 'x' SELECT payload.value, COUNT(*)`)
	require.NoError(t, err)
	_, err = projectionMode(q.Select)
	assert.Error(t, err)
}

func TestParseEmptyTagExprIsEmptyStream(t *testing.T) {
	var e types.TagExpr
	assert.True(t, e.IsEmpty())
}
