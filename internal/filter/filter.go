// Package filter holds the backend-neutral predicate language used for access
// control, user filters and reverse lookups. Stores translate an Expr into
// their own query syntax; Match evaluates it in memory.
package filter

// Expr is a boolean predicate over an offer document.
type Expr interface {
	expr()
}

// Term matches when the field equals Value. On array fields any element may match.
type Term struct {
	Field string
	Value any
}

// In matches when the field equals any of Values.
type In struct {
	Field  string
	Values []any
}

// Exists matches when the field is present, non-null and not an empty string.
type Exists struct {
	Field string
}

// Range bounds a numeric field. Nil bounds are open.
type Range struct {
	Field string
	GTE   *float64
	LT    *float64
}

type And []Expr

type Or []Expr

type Not struct {
	Expr Expr
}

// Nested matches when at least one element of the array at Path satisfies
// Expr. Field names inside Expr are relative to the element.
type Nested struct {
	Path string
	Expr Expr
}

type MatchAll struct{}

type MatchNone struct{}

func (Term) expr()      {}
func (In) expr()        {}
func (Exists) expr()    {}
func (Range) expr()     {}
func (And) expr()       {}
func (Or) expr()        {}
func (Not) expr()       {}
func (Nested) expr()    {}
func (MatchAll) expr()  {}
func (MatchNone) expr() {}

func Eq(field string, value any) Expr {
	return Term{Field: field, Value: value}
}

func OneOf[T any](field string, values ...T) Expr {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return In{Field: field, Values: out}
}

func Has(field string) Expr {
	return Exists{Field: field}
}

// Between builds a half-open range [from, to). Pass nil for an open end.
func Between(field string, from, to *float64) Expr {
	return Range{Field: field, GTE: from, LT: to}
}

func AllOf(exprs ...Expr) Expr {
	return And(exprs)
}

func AnyOf(exprs ...Expr) Expr {
	return Or(exprs)
}

func Negate(e Expr) Expr {
	return Not{Expr: e}
}

func Within(path string, e Expr) Expr {
	return Nested{Path: path, Expr: e}
}

func All() Expr {
	return MatchAll{}
}

func None() Expr {
	return MatchNone{}
}

// IsNone reports whether e can never match after simplification.
func IsNone(e Expr) bool {
	_, ok := Simplify(e).(MatchNone)
	return ok
}

// IsAll reports whether e matches every document after simplification.
func IsAll(e Expr) bool {
	_, ok := Simplify(e).(MatchAll)
	return ok
}
