package aql

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// decodePayload decodes an event payload into a generic value tree
// for path lookup and predicate evaluation. Payloads are CBOR by
// convention; a payload that doesn't decode as CBOR is treated as
// opaque: every path lookup against it fails, so a WHERE clause that
// references a field filters it out, and a SELECT projection yields
// nil for each field.
func decodePayload(raw []byte) (interface{}, bool) {
	var v interface{}
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return normalizeMapKeys(v), true
}

// normalizeMapKeys recursively converts map[interface{}]interface{}
// (what cbor.Unmarshal produces for non-string-keyed maps) into
// map[string]interface{} wherever keys stringify cleanly, so path
// lookup can always use plain string indexing.
func normalizeMapKeys(v interface{}) interface{} {
	switch m := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = normalizeMapKeys(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = normalizeMapKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(m))
		for i, val := range m {
			out[i] = normalizeMapKeys(val)
		}
		return out
	default:
		return v
	}
}

// lookupPath walks path segments through a decoded payload value.
func lookupPath(v interface{}, path []string) (interface{}, bool) {
	cur := v
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// evalPredicate reports whether a decoded payload satisfies pred.
func evalPredicate(pred *Predicate, payload interface{}) bool {
	if pred == nil {
		return true
	}
	if pred.leaf {
		val, ok := lookupPath(payload, pred.Path)
		if !ok {
			return false
		}
		return compare(val, pred.Op, pred.Value)
	}
	left := evalPredicate(pred.LHS, payload)
	if pred.Combine == BoolAnd {
		return left && evalPredicate(pred.RHS, payload)
	}
	return left || evalPredicate(pred.RHS, payload)
}

func compare(val interface{}, op CmpOp, lit Literal) bool {
	switch lit.Kind {
	case LitNumber:
		n, ok := toFloat(val)
		if !ok {
			return false
		}
		return compareFloat(n, op, lit.Num)
	case LitString:
		s, ok := val.(string)
		if !ok {
			return false
		}
		return compareOrdered(s, op, lit.Str)
	case LitBool:
		b, ok := val.(bool)
		if !ok {
			return false
		}
		return compareBool(b, op, lit.Bool)
	case LitNull:
		return compareBool(val == nil, op, true)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareFloat(a float64, op CmpOp, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return false
	}
}

func compareOrdered(a string, op CmpOp, b string) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return false
	}
}

func compareBool(a bool, op CmpOp, b bool) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	default:
		return false // ordering comparisons on booleans never match
	}
}
