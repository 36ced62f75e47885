package filter

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return doc
}

const fixture = `{
	"id": "D1",
	"offerId": "O1",
	"sellerId": "S1",
	"mileage": 42000,
	"status": "active",
	"seller": {"sellerId": "S1", "name": "Acme"},
	"purchases": [
		{"id": "P1", "buyerId": "B1", "offerId": "O1"},
		{"id": "P2", "buyerId": "B2", "offerId": ""}
	],
	"transports": [
		{"id": "T1", "carrierId": "C1", "purchaseId": "P1"}
	]
}`

func ptr(v float64) *float64 { return &v }

func TestMatch(t *testing.T) {
	doc := decode(t, fixture)
	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{name: "match all", expr: All(), want: true},
		{name: "match none", expr: None(), want: false},
		{name: "term", expr: Eq("sellerId", "S1"), want: true},
		{name: "term miss", expr: Eq("sellerId", "S2"), want: false},
		{name: "numeric term", expr: Eq("mileage", 42000), want: true},
		{name: "dotted object path", expr: Eq("seller.name", "Acme"), want: true},
		{name: "flattened array path", expr: Eq("purchases.buyerId", "B2"), want: true},
		{name: "exists", expr: Has("seller"), want: true},
		{name: "exists missing", expr: Has("vin"), want: false},
		{name: "one of", expr: OneOf("status", "sold", "active"), want: true},
		{name: "range inside", expr: Between("mileage", ptr(0), ptr(50000)), want: true},
		{name: "range upper bound exclusive", expr: Between("mileage", nil, ptr(42000)), want: false},
		{name: "open range", expr: Between("mileage", ptr(42000), nil), want: true},
		{name: "nested same element", expr: Within("purchases", AllOf(Eq("buyerId", "B1"), Has("offerId"))), want: true},
		{name: "nested requires same element", expr: Within("purchases", AllOf(Eq("buyerId", "B2"), Has("offerId"))), want: false},
		{name: "nested transports", expr: Within("transports", AllOf(Eq("carrierId", "C1"), Has("purchaseId"))), want: true},
		{name: "or", expr: AnyOf(Eq("sellerId", "X"), Eq("offerId", "O1")), want: true},
		{name: "not", expr: Negate(Eq("status", "active")), want: false},
		{name: "and short circuit", expr: AllOf(Eq("sellerId", "S1"), None()), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.expr, doc); got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSimplify(t *testing.T) {
	term := Eq("sellerId", "S1")
	cases := []struct {
		name string
		in   Expr
		want Expr
	}{
		{name: "nil is match all", in: nil, want: MatchAll{}},
		{name: "empty and", in: AllOf(), want: MatchAll{}},
		{name: "empty or", in: AnyOf(), want: MatchNone{}},
		{name: "and drops match all", in: AllOf(All(), term), want: term},
		{name: "and with none", in: AllOf(term, None()), want: MatchNone{}},
		{name: "or with all", in: AnyOf(term, All()), want: MatchAll{}},
		{name: "or drops none", in: AnyOf(None(), term), want: term},
		{name: "flatten and", in: AllOf(term, AllOf(Has("a"), Has("b"))), want: And{term, Has("a"), Has("b")}},
		{name: "double negation", in: Negate(Negate(term)), want: term},
		{name: "not all", in: Negate(All()), want: MatchNone{}},
		{name: "nested none", in: Within("purchases", None()), want: MatchNone{}},
		{name: "empty in", in: OneOf[string]("status"), want: MatchNone{}},
		{name: "single in", in: OneOf("status", "active"), want: Term{Field: "status", Value: "active"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Simplify(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Simplify = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestSimplifyPreservesMeaning(t *testing.T) {
	doc := decode(t, fixture)
	exprs := []Expr{
		AllOf(All(), AnyOf(None(), Eq("sellerId", "S1")), Negate(Negate(Has("seller")))),
		AnyOf(AllOf(Eq("status", "sold"), All()), Within("purchases", Eq("buyerId", "B1"))),
		Negate(AllOf(Eq("sellerId", "S1"), None())),
	}
	for i, e := range exprs {
		if Match(e, doc) != Match(Simplify(e), doc) {
			t.Fatalf("expr %d changed meaning after simplify", i)
		}
	}
}

func TestIsNoneAndIsAll(t *testing.T) {
	if !IsNone(AllOf(Eq("a", 1), None())) {
		t.Fatal("expected IsNone")
	}
	if !IsAll(AllOf(All(), All())) {
		t.Fatal("expected IsAll")
	}
	if IsNone(Eq("a", 1)) || IsAll(Eq("a", 1)) {
		t.Fatal("term is neither all nor none")
	}
}
