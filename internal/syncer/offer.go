package syncer

import (
	"context"
	"errors"
	"fmt"

	"offersearch/api/internal/docstore"
	"offersearch/api/internal/entitydata"
	"offersearch/api/internal/model"
)

type offerHandler struct {
	s *Synchronizer
}

func (h offerHandler) Create(ctx context.Context, cmd model.Command) error {
	return h.rebuild(ctx, cmd)
}

func (h offerHandler) Update(ctx context.Context, cmd model.Command) error {
	return h.rebuild(ctx, cmd)
}

func (h offerHandler) Delete(ctx context.Context, cmd model.Command) error {
	return h.s.remove(ctx, cmd.DocumentID)
}

// rebuild assembles the document from the offer payload and the provider's
// current view of its children, then merges it over whatever is stored.
func (h offerHandler) rebuild(ctx context.Context, cmd model.Command) error {
	offer, err := decode[model.Offer](cmd)
	if err != nil {
		return err
	}
	if offer.OfferID.IsZero() {
		return malformed(fmt.Errorf("offer payload for %s has no offerId", cmd.DocumentID))
	}

	existing, err := h.s.store.Get(ctx, cmd.DocumentID)
	if errors.Is(err, docstore.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return fmt.Errorf("load document %s: %w", cmd.DocumentID, err)
	}

	fresh, err := h.assemble(ctx, cmd.DocumentID, offer)
	if err != nil {
		return err
	}
	doc := merge(existing, fresh)
	if existing != nil && doc.Equal(existing) {
		return nil
	}
	return h.s.write(ctx, doc)
}

func (h offerHandler) assemble(ctx context.Context, docID string, offer model.Offer) (*model.OfferDocument, error) {
	p := h.s.provider
	doc := model.NewDocument(docID, offer)

	seller, err := entitydata.Seller(ctx, p, offer.SellerID)
	if err != nil {
		return nil, err
	}
	doc.SetSeller(seller)

	purchases, err := entitydata.List[model.Purchase](ctx, p, model.KindPurchase, "offerId", offer.OfferID)
	if err != nil {
		return nil, err
	}
	for _, purchase := range purchases {
		buyer, err := entitydata.Buyer(ctx, p, purchase.BuyerID)
		if err != nil {
			return nil, err
		}
		doc.PutPurchase(model.PurchaseRecord{Purchase: purchase, Buyer: buyer})

		transports, err := entitydata.List[model.Transport](ctx, p, model.KindTransport, "purchaseId", purchase.ID)
		if err != nil {
			return nil, err
		}
		for _, transport := range transports {
			doc.PutTransport(model.TransportRecord{Transport: transport})
		}
	}
	return doc, nil
}

// merge lays fresh over existing. Fresh data wins field by field; embedded
// entries the provider did not return are kept, and cached snapshots survive
// when the provider had none for the same referenced entity.
func merge(existing, fresh *model.OfferDocument) *model.OfferDocument {
	doc := fresh.Clone()
	if existing == nil {
		doc.Prune()
		return doc
	}

	if doc.Seller == nil && existing.Seller != nil && existing.Seller.SellerID == doc.SellerID {
		doc.SetSeller(existing.Seller)
		if fresh.SellerName != "" {
			doc.SellerName = fresh.SellerName
			doc.RefreshSearchableText()
		}
	}

	for _, old := range existing.Purchases {
		i := doc.PurchaseIndex(old.ID)
		if i < 0 {
			doc.Purchases = append(doc.Purchases, old)
			continue
		}
		if doc.Purchases[i].Buyer == nil && old.Buyer != nil && old.BuyerID == doc.Purchases[i].BuyerID {
			doc.Purchases[i].Buyer = old.Buyer
		}
	}
	for _, old := range existing.Transports {
		i := doc.TransportIndex(old.ID)
		if i < 0 {
			doc.Transports = append(doc.Transports, old)
			continue
		}
		if doc.Transports[i].Carrier == nil && old.Carrier != nil && old.CarrierID == doc.Transports[i].CarrierID {
			doc.Transports[i].Carrier = old.Carrier
		}
	}
	doc.Prune()
	return doc.Clone()
}
