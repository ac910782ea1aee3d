package aql

import (
	"fmt"
	"math"

	"github.com/cuemby/actyx/pkg/types"
)

// Parse compiles an AQL query string into a Query. Grammar, informally:
//
//	query      := "FROM" tagExpr bounds? ("WHERE" predicate)? ("SELECT" projection)?
//	tagExpr    := tagTerm ("|" tagTerm)*
//	tagTerm    := STRING ("&" STRING)*
//	bounds     := "BOUNDS" NUMBER ".." (NUMBER | "*")
//	predicate  := andExpr ("OR" andExpr)*
//	andExpr    := comparison ("AND" comparison)*
//	comparison := path OP literal
//	path       := ("payload")? ("." IDENT)+
//	projection := projItem ("," projItem)*
//	projItem   := path ("AS" IDENT)? | AGGFUNC "(" (path | "*") ")" ("AS" IDENT)?
func Parse(src string) (*Query, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("aql: %w", err)
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, fmt.Errorf("aql: %w", err)
	}
	if !p.atEOF() {
		return nil, fmt.Errorf("aql: unexpected trailing input at token %d", p.i)
	}
	return q, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) cur() token   { return p.toks[p.i] }
func (p *parser) atEOF() bool  { return p.cur().kind == tokEOF }
func (p *parser) advance() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) expectKeyword(kw string) error {
	if p.cur().kind == tokKeyword && p.cur().text == kw {
		p.advance()
		return nil
	}
	return fmt.Errorf("expected %s, got %q", kw, p.cur().text)
}

func (p *parser) parseQuery() (*Query, error) {
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tags, err := p.parseTagExpr()
	if err != nil {
		return nil, err
	}
	q := &Query{Tags: tags, Lower: 0, Upper: math.MaxUint64}

	if p.cur().kind == tokKeyword && p.cur().text == "BOUNDS" {
		p.advance()
		lo, hi, err := p.parseBounds()
		if err != nil {
			return nil, err
		}
		q.Lower, q.Upper = lo, hi
	}

	if p.cur().kind == tokKeyword && p.cur().text == "WHERE" {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		q.Where = pred
	}

	if p.cur().kind == tokKeyword && p.cur().text == "SELECT" {
		p.advance()
		items, err := p.parseProjection()
		if err != nil {
			return nil, err
		}
		q.Select = items
	}

	return q, nil
}

func (p *parser) parseTagExpr() (types.TagExpr, error) {
	var expr types.TagExpr
	term, err := p.parseTagTerm()
	if err != nil {
		return expr, err
	}
	expr.Disjuncts = append(expr.Disjuncts, term)
	for p.cur().kind == tokPipe {
		p.advance()
		term, err := p.parseTagTerm()
		if err != nil {
			return expr, err
		}
		expr.Disjuncts = append(expr.Disjuncts, term)
	}
	return expr, nil
}

func (p *parser) parseTagTerm() (types.TagSet, error) {
	if p.cur().kind != tokString {
		return nil, fmt.Errorf("expected a tag string, got %q", p.cur().text)
	}
	tags := []string{p.advance().text}
	for p.cur().kind == tokAmp {
		p.advance()
		if p.cur().kind != tokString {
			return nil, fmt.Errorf("expected a tag string after '&', got %q", p.cur().text)
		}
		tags = append(tags, p.advance().text)
	}
	return types.NewTagSet(tags...), nil
}

func (p *parser) parseBounds() (uint64, uint64, error) {
	if p.cur().kind != tokNumber {
		return 0, 0, fmt.Errorf("expected lower bound number, got %q", p.cur().text)
	}
	lo := uint64(p.advance().num)
	if p.cur().kind != tokDots {
		return 0, 0, fmt.Errorf("expected '..' in bounds, got %q", p.cur().text)
	}
	p.advance()
	if p.cur().kind == tokStar {
		p.advance()
		return lo, math.MaxUint64, nil
	}
	if p.cur().kind != tokNumber {
		return 0, 0, fmt.Errorf("expected upper bound number or '*', got %q", p.cur().text)
	}
	hi := uint64(p.advance().num)
	return lo, hi, nil
}

func (p *parser) parsePredicate() (*Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokKeyword && p.cur().text == "OR" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Predicate{LHS: left, RHS: right, Combine: BoolOr}
	}
	return left, nil
}

func (p *parser) parseAnd() (*Predicate, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokKeyword && p.cur().text == "AND" {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &Predicate{LHS: left, RHS: right, Combine: BoolAnd}
	}
	return left, nil
}

func (p *parser) parseComparison() (*Predicate, error) {
	if p.cur().kind == tokLParen {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("expected ')', got %q", p.cur().text)
		}
		p.advance()
		return pred, nil
	}

	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator, got %q", p.cur().text)
	}
	op, err := parseCmpOp(p.advance().text)
	if err != nil {
		return nil, err
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Predicate{leaf: true, Path: path, Op: op, Value: lit}, nil
}

func parseCmpOp(s string) (CmpOp, error) {
	switch s {
	case "=":
		return OpEq, nil
	case "!=":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", s)
	}
}

// parsePath parses an optional leading "payload" identifier followed
// by one or more ".field" segments, e.g. "payload.value" or ".value".
func (p *parser) parsePath() ([]string, error) {
	if p.cur().kind == tokIdent && p.cur().text == "payload" {
		p.advance()
	}
	var segs []string
	for p.cur().kind == tokDot {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("expected field name after '.', got %q", p.cur().text)
		}
		segs = append(segs, p.advance().text)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("expected a payload field path")
	}
	return segs, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	t := p.cur()
	switch {
	case t.kind == tokNumber:
		p.advance()
		return Literal{Kind: LitNumber, Num: t.num}, nil
	case t.kind == tokString:
		p.advance()
		return Literal{Kind: LitString, Str: t.text}, nil
	case t.kind == tokKeyword && t.text == "TRUE":
		p.advance()
		return Literal{Kind: LitBool, Bool: true}, nil
	case t.kind == tokKeyword && t.text == "FALSE":
		p.advance()
		return Literal{Kind: LitBool, Bool: false}, nil
	case t.kind == tokKeyword && t.text == "NULL":
		p.advance()
		return Literal{Kind: LitNull}, nil
	default:
		return Literal{}, fmt.Errorf("expected a literal value, got %q", t.text)
	}
}

func (p *parser) parseProjection() ([]ProjItem, error) {
	var items []ProjItem
	for {
		item, err := p.parseProjItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.cur().kind != tokComma {
			break
		}
		p.advance()
	}
	return items, nil
}

var aggKeywords = map[string]AggFunc{
	"COUNT": AggCount, "SUM": AggSum, "MIN": AggMin, "MAX": AggMax,
	"FIRST": AggFirst, "LAST": AggLast,
}

func (p *parser) parseProjItem() (ProjItem, error) {
	if p.cur().kind == tokKeyword {
		if fn, ok := aggKeywords[p.cur().text]; ok {
			p.advance()
			if p.cur().kind != tokLParen {
				return ProjItem{}, fmt.Errorf("expected '(' after aggregation, got %q", p.cur().text)
			}
			p.advance()
			var path []string
			if p.cur().kind == tokStar {
				p.advance()
			} else {
				var err error
				path, err = p.parsePath()
				if err != nil {
					return ProjItem{}, err
				}
			}
			if p.cur().kind != tokRParen {
				return ProjItem{}, fmt.Errorf("expected ')', got %q", p.cur().text)
			}
			p.advance()
			item := ProjItem{Agg: fn, Path: path}
			item.As, _ = p.parseOptionalAs(defaultAggName(fn, path))
			return item, nil
		}
	}

	path, err := p.parsePath()
	if err != nil {
		return ProjItem{}, err
	}
	item := ProjItem{Agg: AggNone, Path: path}
	item.As, _ = p.parseOptionalAs(path[len(path)-1])
	return item, nil
}

func (p *parser) parseOptionalAs(fallback string) (string, error) {
	if p.cur().kind == tokKeyword && p.cur().text == "AS" {
		p.advance()
		if p.cur().kind != tokIdent {
			return "", fmt.Errorf("expected identifier after AS, got %q", p.cur().text)
		}
		return p.advance().text, nil
	}
	return fallback, nil
}

func defaultAggName(fn AggFunc, path []string) string {
	name := map[AggFunc]string{
		AggCount: "count", AggSum: "sum", AggMin: "min", AggMax: "max",
		AggFirst: "first", AggLast: "last",
	}[fn]
	if len(path) == 0 {
		return name
	}
	return name + "_" + path[len(path)-1]
}
