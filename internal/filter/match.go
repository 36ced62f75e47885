package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Match evaluates e against a document decoded into generic JSON values
// (map[string]any, []any, string, float64, bool, nil).
func Match(e Expr, doc map[string]any) bool {
	switch v := e.(type) {
	case nil, MatchAll:
		return true
	case MatchNone:
		return false
	case Term:
		want := Format(v.Value)
		for _, got := range Lookup(doc, v.Field) {
			if got != nil && Format(got) == want {
				return true
			}
		}
		return false
	case In:
		for _, value := range v.Values {
			if Match(Term{Field: v.Field, Value: value}, doc) {
				return true
			}
		}
		return false
	case Exists:
		for _, got := range Lookup(doc, v.Field) {
			if present(got) {
				return true
			}
		}
		return false
	case Range:
		for _, got := range Lookup(doc, v.Field) {
			n, ok := number(got)
			if !ok {
				continue
			}
			if v.GTE != nil && n < *v.GTE {
				continue
			}
			if v.LT != nil && n >= *v.LT {
				continue
			}
			return true
		}
		return false
	case And:
		for _, child := range v {
			if !Match(child, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range v {
			if Match(child, doc) {
				return true
			}
		}
		return false
	case Not:
		return !Match(v.Expr, doc)
	case Nested:
		for _, item := range Lookup(doc, v.Path) {
			element, ok := item.(map[string]any)
			if ok && Match(v.Expr, element) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Lookup resolves a dotted path. Arrays met along the way are flattened, so
// "purchases.buyerId" yields the buyerId of every purchase.
func Lookup(doc map[string]any, path string) []any {
	current := []any{doc}
	for _, part := range strings.Split(path, ".") {
		var next []any
		for _, node := range current {
			obj, ok := node.(map[string]any)
			if !ok {
				continue
			}
			value, ok := obj[part]
			if !ok {
				continue
			}
			if items, isArray := value.([]any); isArray {
				next = append(next, items...)
				continue
			}
			next = append(next, value)
		}
		current = next
	}
	return current
}

// Format renders a scalar the way term comparison sees it: numbers in their
// shortest decimal form, everything else via its string form.
func Format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func present(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	default:
		return 0, false
	}
}
