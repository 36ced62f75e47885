package model

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// OfferDocument is the denormalized view of one offer together with everything
// embedded beneath it. It is the unit of storage and of access control.
type OfferDocument struct {
	ID string `json:"id"`
	Offer
	Seller         *SellerSnapshot   `json:"seller"`
	Purchases      []PurchaseRecord  `json:"purchases"`
	Transports     []TransportRecord `json:"transports"`
	SearchableText []string          `json:"searchableText"`
}

type SellerSnapshot struct {
	SellerID       ID        `json:"sellerId"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

type BuyerSnapshot struct {
	BuyerID        ID        `json:"buyerId"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Company        string    `json:"company,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

type CarrierSnapshot struct {
	ID             ID        `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// PurchaseRecord is a purchase embedded in its offer's document.
type PurchaseRecord struct {
	Purchase
	Buyer *BuyerSnapshot `json:"buyer"`
}

// TransportRecord is a transport embedded in the document of the offer its
// purchase belongs to.
type TransportRecord struct {
	Transport
	Carrier *CarrierSnapshot `json:"carrier"`
}

// NewDocument starts a document for an offer with empty collections.
func NewDocument(id string, offer Offer) *OfferDocument {
	doc := &OfferDocument{
		ID:         id,
		Purchases:  []PurchaseRecord{},
		Transports: []TransportRecord{},
	}
	doc.ApplyOffer(offer)
	return doc
}

// ApplyOffer replaces the scalar offer attributes and recomputes the derived text.
func (d *OfferDocument) ApplyOffer(offer Offer) {
	d.Offer = offer
	d.RefreshSearchableText()
}

// RefreshSearchableText rebuilds the flattened full-text field from the scalars.
func (d *OfferDocument) RefreshSearchableText() {
	vehicle := strings.Join(nonBlank(d.VehicleYear, d.VehicleMake, d.VehicleModel), " ")
	d.SearchableText = nonBlank(vehicle, d.VIN, d.SellerName, d.VehicleBodyType, d.VehicleFuelType, d.Status)
}

func (d *OfferDocument) PurchaseIndex(id ID) int {
	for i := range d.Purchases {
		if d.Purchases[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *OfferDocument) TransportIndex(id ID) int {
	for i := range d.Transports {
		if d.Transports[i].ID == id {
			return i
		}
	}
	return -1
}

// PutPurchase inserts the record, or replaces the entry with the same id in place.
func (d *OfferDocument) PutPurchase(rec PurchaseRecord) {
	if i := d.PurchaseIndex(rec.ID); i >= 0 {
		d.Purchases[i] = rec
		return
	}
	d.Purchases = append(d.Purchases, rec)
}

// RemovePurchase drops the purchase and every transport that references it.
func (d *OfferDocument) RemovePurchase(id ID) bool {
	i := d.PurchaseIndex(id)
	if i < 0 {
		return false
	}
	d.Purchases = append(d.Purchases[:i], d.Purchases[i+1:]...)
	kept := d.Transports[:0]
	for _, t := range d.Transports {
		if t.PurchaseID != id {
			kept = append(kept, t)
		}
	}
	d.Transports = kept
	return true
}

func (d *OfferDocument) PutTransport(rec TransportRecord) {
	if i := d.TransportIndex(rec.ID); i >= 0 {
		d.Transports[i] = rec
		return
	}
	d.Transports = append(d.Transports, rec)
}

func (d *OfferDocument) RemoveTransport(id ID) bool {
	i := d.TransportIndex(id)
	if i < 0 {
		return false
	}
	d.Transports = append(d.Transports[:i], d.Transports[i+1:]...)
	return true
}

// SetSeller overwrites the cached seller profile. A nil snapshot clears it.
func (d *OfferDocument) SetSeller(snap *SellerSnapshot) {
	d.Seller = snap
	if snap != nil && snap.Name != "" {
		d.SellerName = snap.Name
	}
	d.RefreshSearchableText()
}

// SetBuyer overwrites the buyer snapshot on every purchase made by buyerID.
func (d *OfferDocument) SetBuyer(buyerID ID, snap *BuyerSnapshot) {
	for i := range d.Purchases {
		if d.Purchases[i].BuyerID == buyerID {
			d.Purchases[i].Buyer = cloneBuyer(snap)
		}
	}
}

// SetCarrier overwrites the carrier snapshot on every transport run by carrierID.
func (d *OfferDocument) SetCarrier(carrierID ID, snap *CarrierSnapshot) {
	for i := range d.Transports {
		if d.Transports[i].CarrierID == carrierID {
			d.Transports[i].Carrier = cloneCarrier(snap)
		}
	}
}

// Prune removes embedded entries that break containment: purchases belonging
// to another offer, duplicate ids, and transports whose purchase is not here.
func (d *OfferDocument) Prune() {
	seen := make(map[ID]struct{}, len(d.Purchases))
	purchases := d.Purchases[:0]
	for _, p := range d.Purchases {
		if p.OfferID != d.OfferID {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		purchases = append(purchases, p)
	}
	d.Purchases = purchases

	seenTransport := make(map[ID]struct{}, len(d.Transports))
	transports := d.Transports[:0]
	for _, t := range d.Transports {
		if _, ok := seen[t.PurchaseID]; !ok {
			continue
		}
		if _, dup := seenTransport[t.ID]; dup {
			continue
		}
		seenTransport[t.ID] = struct{}{}
		transports = append(transports, t)
	}
	d.Transports = transports
}

// CheckContainment verifies the referential invariants of the document.
func (d *OfferDocument) CheckContainment() error {
	purchases := make(map[ID]struct{}, len(d.Purchases))
	for _, p := range d.Purchases {
		if p.OfferID != d.OfferID {
			return fmt.Errorf("purchase %s references offer %s, document holds offer %s", p.ID, p.OfferID, d.OfferID)
		}
		if _, dup := purchases[p.ID]; dup {
			return fmt.Errorf("purchase %s embedded twice", p.ID)
		}
		purchases[p.ID] = struct{}{}
	}
	transports := make(map[ID]struct{}, len(d.Transports))
	for _, t := range d.Transports {
		if _, ok := purchases[t.PurchaseID]; !ok {
			return fmt.Errorf("transport %s references purchase %s not in document", t.ID, t.PurchaseID)
		}
		if _, dup := transports[t.ID]; dup {
			return fmt.Errorf("transport %s embedded twice", t.ID)
		}
		transports[t.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy that can be mutated without touching d.
func (d *OfferDocument) Clone() *OfferDocument {
	if d == nil {
		return nil
	}
	out := *d
	if d.Seller != nil {
		seller := *d.Seller
		out.Seller = &seller
	}
	out.Purchases = make([]PurchaseRecord, len(d.Purchases))
	for i, p := range d.Purchases {
		p.Buyer = cloneBuyer(p.Buyer)
		out.Purchases[i] = p
	}
	out.Transports = make([]TransportRecord, len(d.Transports))
	for i, t := range d.Transports {
		t.Carrier = cloneCarrier(t.Carrier)
		if t.ScheduleDate != nil {
			when := *t.ScheduleDate
			t.ScheduleDate = &when
		}
		out.Transports[i] = t
	}
	out.SearchableText = append([]string(nil), d.SearchableText...)
	return &out
}

// Equal reports whether two documents hold the same state.
func (d *OfferDocument) Equal(other *OfferDocument) bool {
	return reflect.DeepEqual(d.normalized(), other.normalized())
}

func (d *OfferDocument) normalized() *OfferDocument {
	if d == nil {
		return nil
	}
	out := d.Clone()
	if len(out.Purchases) == 0 {
		out.Purchases = nil
	}
	if len(out.Transports) == 0 {
		out.Transports = nil
	}
	if len(out.SearchableText) == 0 {
		out.SearchableText = nil
	}
	return out
}

func cloneBuyer(snap *BuyerSnapshot) *BuyerSnapshot {
	if snap == nil {
		return nil
	}
	out := *snap
	return &out
}

func cloneCarrier(snap *CarrierSnapshot) *CarrierSnapshot {
	if snap == nil {
		return nil
	}
	out := *snap
	return &out
}

func nonBlank(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ReferenceField is the document path holding ids of the given kind. A
// document references entity X of that kind when the path contains X.
func ReferenceField(kind EntityKind) string {
	switch kind {
	case KindOffer:
		return "offerId"
	case KindPurchase:
		return "purchases.id"
	case KindTransport:
		return "transports.id"
	case KindSeller:
		return "sellerId"
	case KindBuyer:
		return "purchases.buyerId"
	case KindCarrier:
		return "transports.carrierId"
	default:
		return ""
	}
}
