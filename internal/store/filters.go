package store

import (
	"fmt"
	"strings"
)

// MatchFilters reports whether a row's values satisfy every filter. The
// engine's shadow overlay uses the same matcher as the repository so preview
// queries and live queries agree on filter semantics.
func MatchFilters(values map[string]any, filters []RowFilter) bool {
	for _, f := range filters {
		if !matchFilter(values[f.Column], f) {
			return false
		}
	}
	return true
}

func matchFilter(have any, f RowFilter) bool {
	switch f.Op {
	case "", "eq":
		return compareEqual(have, f.Value)
	case "neq":
		return !compareEqual(have, f.Value)
	case "gt", "gte", "lt", "lte":
		ha, wa, ok := bothNumbers(have, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case "gt":
			return ha > wa
		case "gte":
			return ha >= wa
		case "lt":
			return ha < wa
		default:
			return ha <= wa
		}
	case "contains":
		hs, ok1 := have.(string)
		ws, ok2 := f.Value.(string)
		return ok1 && ok2 && strings.Contains(hs, ws)
	default:
		return false
	}
}

// compareEqual compares loosely across numeric types: JSON round-trips turn
// ints into float64, and filter values resolved from expressions may be
// either.
func compareEqual(a, b any) bool {
	if na, nb, ok := bothNumbers(a, b); ok {
		return na == nb
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && (a != nil) == (b != nil)
}

func bothNumbers(a, b any) (float64, float64, bool) {
	na, ok1 := asFloat(a)
	nb, ok2 := asFloat(b)
	return na, nb, ok1 && ok2
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
