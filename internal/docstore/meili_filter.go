package docstore

import (
	"fmt"
	"strconv"
	"strings"

	"offersearch/api/internal/filter"
)

// meiliFilter renders an expression in Meilisearch filter syntax. Meilisearch
// flattens arrays of objects, so a nested predicate becomes a predicate on the
// dotted paths. That is looser than per-element matching; access predicates
// stay exact because every embedded purchase and transport satisfies the
// exists half of its clause by construction.
func meiliFilter(e filter.Expr) (string, error) {
	return renderMeili(filter.Simplify(e), "")
}

func renderMeili(e filter.Expr, prefix string) (string, error) {
	switch v := e.(type) {
	case filter.MatchAll:
		return `id EXISTS`, nil
	case filter.MatchNone:
		return `NOT id EXISTS`, nil
	case filter.Term:
		return fmt.Sprintf("%s = %s", meiliField(prefix, v.Field), meiliValue(v.Value)), nil
	case filter.In:
		values := make([]string, len(v.Values))
		for i, value := range v.Values {
			values[i] = meiliValue(value)
		}
		return fmt.Sprintf("%s IN [%s]", meiliField(prefix, v.Field), strings.Join(values, ", ")), nil
	case filter.Exists:
		f := meiliField(prefix, v.Field)
		return fmt.Sprintf("(%s EXISTS AND %s IS NOT NULL AND %s IS NOT EMPTY)", f, f, f), nil
	case filter.Range:
		f := meiliField(prefix, v.Field)
		var parts []string
		if v.GTE != nil {
			parts = append(parts, fmt.Sprintf("%s >= %s", f, formatNumber(*v.GTE)))
		}
		if v.LT != nil {
			parts = append(parts, fmt.Sprintf("%s < %s", f, formatNumber(*v.LT)))
		}
		if len(parts) == 0 {
			return fmt.Sprintf("%s EXISTS", f), nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case filter.And:
		return joinMeili([]filter.Expr(v), " AND ", prefix)
	case filter.Or:
		return joinMeili([]filter.Expr(v), " OR ", prefix)
	case filter.Not:
		inner, err := renderMeili(v.Expr, prefix)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case filter.Nested:
		path := meiliField(prefix, v.Path)
		if _, all := v.Expr.(filter.MatchAll); all {
			return fmt.Sprintf("(%s EXISTS AND %s IS NOT EMPTY)", path, path), nil
		}
		return renderMeili(v.Expr, path)
	default:
		return "", fmt.Errorf("meilisearch filter: unsupported expression %T", e)
	}
}

func joinMeili(children []filter.Expr, sep, prefix string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		s, err := renderMeili(child, prefix)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func meiliField(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

func meiliValue(value any) string {
	switch v := value.(type) {
	case float64:
		return formatNumber(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strconv.Quote(filter.Format(v))
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
