package aql

import "github.com/cuemby/actyx/pkg/types"

// Query is the parsed form of an AQL string: a source (tag expression
// plus an optional offset range), an optional payload predicate, and
// an optional projection/aggregation list. A nil Select means "emit
// the whole event".
type Query struct {
	Tags   types.TagExpr
	Lower  uint64
	Upper  uint64 // math.MaxUint64 when unbounded
	Where  *Predicate
	Select []ProjItem
}

// CmpOp is a comparison operator in a predicate.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// BoolOp combines two predicates.
type BoolOp int

const (
	BoolAnd BoolOp = iota
	BoolOr
)

// Predicate is a boolean expression over payload field paths. Exactly
// one of (Left/Op/Right) or (LHS/BoolOp/RHS) is set: a Predicate is
// either a leaf comparison or a conjunction/disjunction of two
// sub-predicates.
type Predicate struct {
	Path  []string
	Op    CmpOp
	Value Literal

	LHS, RHS *Predicate
	Combine  BoolOp

	leaf bool
}

// Literal is a parsed scalar value: exactly one field is meaningful,
// selected by Kind.
type Literal struct {
	Kind LiteralKind
	Num  float64
	Str  string
	Bool bool
}

type LiteralKind int

const (
	LitNumber LiteralKind = iota
	LitString
	LitBool
	LitNull
)

// AggFunc names a supported aggregation fold.
type AggFunc int

const (
	AggNone AggFunc = iota
	AggCount
	AggSum
	AggMin
	AggMax
	AggFirst
	AggLast
)

// ProjItem is one output column: either a plain field projection or
// an aggregation over a field, each with an output name.
type ProjItem struct {
	Agg   AggFunc
	Path  []string // empty for COUNT(*)
	As    string
}
