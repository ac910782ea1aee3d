package types

// TagExpr is the AST for a tag filter expression: a boolean formula
// over "tag present" predicates, normalized to disjunctive-of-
// conjunctions form so branch matching can be done without recursion.
type TagExpr struct {
	// Disjuncts is the OR of its elements; each element is itself the
	// AND (required-tag set) of all tags in it. An empty Disjuncts
	// slice matches nothing.
	Disjuncts []TagSet
}

// All builds a TagExpr matching events carrying every tag in tags.
func All(tags ...string) TagExpr {
	return TagExpr{Disjuncts: []TagSet{NewTagSet(tags...)}}
}

// Or combines expressions as a disjunction.
func Or(exprs ...TagExpr) TagExpr {
	var out TagExpr
	for _, e := range exprs {
		out.Disjuncts = append(out.Disjuncts, e.Disjuncts...)
	}
	return out
}

// IsEmpty reports whether the expression can never match anything.
func (e TagExpr) IsEmpty() bool {
	return len(e.Disjuncts) == 0
}

// MatchesTags reports whether the exact payload-level tag set satisfies e.
func (e TagExpr) MatchesTags(tags TagSet) bool {
	for _, required := range e.Disjuncts {
		if required.Subset(tags) {
			return true
		}
	}
	return false
}

// MatchesSummary reports whether a branch whose descendants' tags are
// conservatively bounded by union could possibly contain a match. A
// branch matches a required-tag set R if R ⊆ branch.tag-union; it
// matches the overall disjunction if any disjunct matches.
func (e TagExpr) MatchesSummary(union TagSet) bool {
	for _, required := range e.Disjuncts {
		if required.Subset(union) {
			return true
		}
	}
	return false
}
