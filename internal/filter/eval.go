package filter

import (
	"cmp"
	"encoding/json"
	"reflect"
	"strings"
)

// Match evaluates the expression against a record's fields. A nil
// expression matches everything; absent fields evaluate as null.
func (e *Expr) Match(fields map[string]any) bool {
	if e == nil || len(e.Conditions) == 0 {
		return true
	}
	result := e.Conditions[0].Match(fields)
	for i, join := range e.Joins {
		next := e.Conditions[i+1].Match(fields)
		if join == And {
			result = result && next
		} else {
			result = result || next
		}
	}
	return result
}

// Match evaluates a single clause.
func (c Condition) Match(fields map[string]any) bool {
	actual := fields[c.Field]
	switch c.Op {
	case OpEq:
		return Equal(actual, c.Value)
	case OpNeq:
		return !Equal(actual, c.Value)
	case OpIn:
		for _, v := range c.Values {
			if Equal(actual, v) {
				return true
			}
		}
		return false
	}

	n, ok := Compare(actual, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGt:
		return n > 0
	case OpLt:
		return n < 0
	case OpGte:
		return n >= 0
	case OpLte:
		return n <= 0
	}
	return false
}

// normalize folds every numeric type into float64 so values decoded from
// JSON compare equal to values written by Go code.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return n.String()
		}
		return f
	}
	return v
}

// Equal reports strict equality: no coercion between strings, numbers
// and booleans.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same kind. ok is false when the values
// have no common ordering (different kinds, or composite values).
func Compare(a, b any) (n int, ok bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case string:
		if bv, isStr := b.(string); isStr {
			return strings.Compare(av, bv), true
		}
	case float64:
		if bv, isNum := b.(float64); isNum {
			return cmp.Compare(av, bv), true
		}
	case bool:
		if bv, isBool := b.(bool); isBool {
			return cmp.Compare(boolRank(av), boolRank(bv)), true
		}
	}
	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// kindRank gives mixed-kind values a fixed order for sorting:
// null < bool < number < string < anything else.
func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

// Order is a total order over field values used for sorting.
func Order(a, b any) int {
	a, b = normalize(a), normalize(b)
	if n, ok := Compare(a, b); ok {
		return n
	}
	return cmp.Compare(kindRank(a), kindRank(b))
}
