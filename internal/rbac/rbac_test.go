package rbac

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{in: "agent", want: RoleAgent},
		{in: "Seller", want: RoleSeller},
		{in: " BUYER ", want: RoleBuyer},
		{in: "carrier", want: RoleCarrier},
		{in: "admin", want: RoleUnknown},
		{in: "", want: RoleUnknown},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildFilter(t *testing.T) {
	cases := []struct {
		name string
		user UserContext
		want filter.Expr
	}{
		{name: "agent", user: NewUserContext("agent", "", ""), want: filter.MatchAll{}},
		{name: "agent ignores account", user: NewUserContext("Agent", "A1", ""), want: filter.MatchAll{}},
		{name: "seller", user: NewUserContext("seller", "S1", ""), want: filter.Term{Field: "sellerId", Value: "S1"}},
		{
			name: "buyer",
			user: NewUserContext("buyer", "B1", ""),
			want: filter.Nested{Path: "purchases", Expr: filter.And{
				filter.Term{Field: "buyerId", Value: "B1"},
				filter.Exists{Field: "offerId"},
			}},
		},
		{
			name: "carrier",
			user: NewUserContext("CARRIER", "C1", ""),
			want: filter.Nested{Path: "transports", Expr: filter.And{
				filter.Term{Field: "carrierId", Value: "C1"},
				filter.Exists{Field: "purchaseId"},
			}},
		},
		{name: "seller without account", user: NewUserContext("seller", "  ", ""), want: filter.MatchNone{}},
		{name: "unknown role", user: NewUserContext("admin", "X", ""), want: filter.MatchNone{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildFilter(tc.user); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("BuildFilter = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestBuildFilterIsPure(t *testing.T) {
	u := NewUserContext("buyer", "B1", "u1")
	if !reflect.DeepEqual(BuildFilter(u), BuildFilter(u)) {
		t.Fatal("BuildFilter should return equal filters for equal input")
	}
}

// randomDocument builds a containment-respecting document from a small
// universe of account ids.
func randomDocument(r *rand.Rand, n int) *model.OfferDocument {
	accounts := []string{"A1", "A2", "A3"}
	pick := func() model.ID { return model.ID(accounts[r.Intn(len(accounts))]) }
	offerID := model.ID(fmt.Sprintf("O%d", n))
	doc := model.NewDocument(fmt.Sprintf("D%d", n), model.Offer{OfferID: offerID, SellerID: pick()})
	for p := 0; p < r.Intn(3); p++ {
		purchaseID := model.ID(fmt.Sprintf("P%d-%d", n, p))
		doc.PutPurchase(model.PurchaseRecord{Purchase: model.Purchase{ID: purchaseID, OfferID: offerID, BuyerID: pick()}})
		for tr := 0; tr < r.Intn(3); tr++ {
			doc.PutTransport(model.TransportRecord{Transport: model.Transport{
				ID:         model.ID(fmt.Sprintf("T%d-%d-%d", n, p, tr)),
				PurchaseID: purchaseID,
				CarrierID:  pick(),
			}})
		}
	}
	return doc
}

func asMap(t *testing.T, doc *model.OfferDocument) map[string]any {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

// visible is the reference definition of who may see a document.
func visible(u UserContext, doc *model.OfferDocument) bool {
	account := model.ID(u.AccountID)
	switch u.Role {
	case RoleAgent:
		return true
	case RoleSeller:
		return account != "" && doc.SellerID == account
	case RoleBuyer:
		for _, p := range doc.Purchases {
			if account != "" && p.BuyerID == account && !p.OfferID.IsZero() {
				return true
			}
		}
	case RoleCarrier:
		for _, tr := range doc.Transports {
			if account != "" && tr.CarrierID == account && !tr.PurchaseID.IsZero() {
				return true
			}
		}
	}
	return false
}

func TestFilterMatchesReferenceVisibility(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	roles := []string{"agent", "seller", "buyer", "carrier", "guest"}
	accounts := []string{"A1", "A2", "A3", ""}
	for n := 0; n < 200; n++ {
		doc := randomDocument(r, n)
		fields := asMap(t, doc)
		for _, role := range roles {
			for _, account := range accounts {
				u := NewUserContext(role, account, "")
				if got, want := filter.Match(BuildFilter(u), fields), visible(u, doc); got != want {
					t.Fatalf("doc %s role=%s account=%q: filter=%v reference=%v", doc.ID, role, account, got, want)
				}
			}
		}
	}
}

func TestScope(t *testing.T) {
	doc := model.NewDocument("D1", model.Offer{OfferID: "O1", SellerID: "S1"})
	doc.PutPurchase(model.PurchaseRecord{Purchase: model.Purchase{ID: "P1", OfferID: "O1", BuyerID: "B1"}})
	doc.PutPurchase(model.PurchaseRecord{Purchase: model.Purchase{ID: "P2", OfferID: "O1", BuyerID: "B2"}})
	doc.PutTransport(model.TransportRecord{Transport: model.Transport{ID: "T1", PurchaseID: "P1", CarrierID: "C1"}})
	doc.PutTransport(model.TransportRecord{Transport: model.Transport{ID: "T2", PurchaseID: "P2", CarrierID: "C2"}})

	buyer := Scope(NewUserContext("buyer", "B1", ""), doc)
	if len(buyer.Purchases) != 1 || buyer.Purchases[0].ID != "P1" {
		t.Fatalf("buyer purchases = %+v", buyer.Purchases)
	}
	if len(buyer.Transports) != 1 || buyer.Transports[0].ID != "T1" {
		t.Fatalf("buyer transports = %+v", buyer.Transports)
	}

	carrier := Scope(NewUserContext("carrier", "C2", ""), doc)
	if len(carrier.Transports) != 1 || carrier.Transports[0].ID != "T2" {
		t.Fatalf("carrier transports = %+v", carrier.Transports)
	}
	if len(carrier.Purchases) != 1 || carrier.Purchases[0].ID != "P2" {
		t.Fatalf("carrier purchases = %+v", carrier.Purchases)
	}
	if err := carrier.CheckContainment(); err != nil {
		t.Fatalf("scoped document breaks containment: %v", err)
	}

	seller := Scope(NewUserContext("seller", "S1", ""), doc)
	if len(seller.Purchases) != 2 || len(seller.Transports) != 2 {
		t.Fatal("seller should see the whole document")
	}
	if len(doc.Purchases) != 2 || len(doc.Transports) != 2 {
		t.Fatal("Scope modified its input")
	}
	if Scope(NewUserContext("guest", "X", ""), doc) != nil {
		t.Fatal("unknown role should see nothing")
	}
}

func TestCanAdminister(t *testing.T) {
	if !CanAdminister(NewUserContext("agent", "", "")) {
		t.Fatal("agent should administer")
	}
	if CanAdminister(NewUserContext("seller", "S1", "")) {
		t.Fatal("seller should not administer")
	}
}
