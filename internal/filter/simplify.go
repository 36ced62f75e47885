package filter

// Simplify flattens nested conjunctions and disjunctions and folds the
// match-all and match-none constants. The result is logically equivalent.
func Simplify(e Expr) Expr {
	switch v := e.(type) {
	case nil:
		return MatchAll{}
	case And:
		out := make(And, 0, len(v))
		for _, child := range v {
			switch c := Simplify(child).(type) {
			case MatchAll:
			case MatchNone:
				return MatchNone{}
			case And:
				out = append(out, c...)
			default:
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return MatchAll{}
		case 1:
			return out[0]
		}
		return out
	case Or:
		out := make(Or, 0, len(v))
		for _, child := range v {
			switch c := Simplify(child).(type) {
			case MatchNone:
			case MatchAll:
				return MatchAll{}
			case Or:
				out = append(out, c...)
			default:
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return MatchNone{}
		case 1:
			return out[0]
		}
		return out
	case Not:
		switch inner := Simplify(v.Expr).(type) {
		case MatchAll:
			return MatchNone{}
		case MatchNone:
			return MatchAll{}
		case Not:
			return inner.Expr
		default:
			return Not{Expr: inner}
		}
	case Nested:
		inner := Simplify(v.Expr)
		if _, ok := inner.(MatchNone); ok {
			return MatchNone{}
		}
		return Nested{Path: v.Path, Expr: inner}
	case In:
		if len(v.Values) == 0 {
			return MatchNone{}
		}
		if len(v.Values) == 1 {
			return Term{Field: v.Field, Value: v.Values[0]}
		}
		return v
	default:
		return e
	}
}
