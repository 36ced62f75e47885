package syncer

import (
	"context"
	"fmt"

	"offersearch/api/internal/entitydata"
	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

type purchaseHandler struct {
	s *Synchronizer
}

func (h purchaseHandler) Create(ctx context.Context, cmd model.Command) error {
	return h.place(ctx, cmd, false)
}

func (h purchaseHandler) Update(ctx context.Context, cmd model.Command) error {
	return h.place(ctx, cmd, true)
}

func (h purchaseHandler) Delete(ctx context.Context, cmd model.Command) error {
	id, err := payloadID(cmd)
	if err != nil {
		return err
	}
	holders, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindPurchase), id.String()))
	if err != nil {
		return err
	}
	return h.s.mutateAll(ctx, holders, func(doc *model.OfferDocument) {
		doc.RemovePurchase(id)
	})
}

// place puts the purchase into the document of its offer and takes it out of
// any document of another offer, carrying its transports along. An update
// for a purchase no document holds is a referential gap, as is a create for
// an offer that has no document yet.
func (h purchaseHandler) place(ctx context.Context, cmd model.Command, update bool) error {
	purchase, err := decode[model.Purchase](cmd)
	if err != nil {
		return err
	}
	if purchase.ID.IsZero() || purchase.OfferID.IsZero() {
		return malformed(fmt.Errorf("purchase payload for %s needs id and offerId", cmd.DocumentID))
	}

	holders, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindPurchase), purchase.ID.String()))
	if err != nil {
		return err
	}
	if update && len(holders) == 0 {
		return referentialGap(cmd, "no document holds purchase %s", purchase.ID)
	}
	targets, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindOffer), purchase.OfferID.String()))
	if err != nil {
		return err
	}
	if !update && len(targets) == 0 {
		return referentialGap(cmd, "no document for offer %s", purchase.OfferID)
	}

	var previous *model.PurchaseRecord
	var carried []model.TransportRecord
	for _, doc := range holders {
		if i := doc.PurchaseIndex(purchase.ID); i >= 0 && previous == nil {
			p := doc.Purchases[i]
			previous = &p
		}
		if doc.OfferID != purchase.OfferID {
			for _, t := range doc.Transports {
				if t.PurchaseID == purchase.ID {
					carried = append(carried, t)
				}
			}
		}
	}

	record := model.PurchaseRecord{Purchase: purchase}
	if len(targets) > 0 {
		buyer, err := entitydata.Buyer(ctx, h.s.provider, purchase.BuyerID)
		if err != nil {
			return err
		}
		if buyer == nil && previous != nil && previous.BuyerID == purchase.BuyerID {
			buyer = previous.Buyer
		}
		record.Buyer = buyer
	}

	if err := h.s.mutateAll(ctx, targets, func(doc *model.OfferDocument) {
		doc.PutPurchase(record)
		for _, t := range carried {
			if doc.TransportIndex(t.ID) < 0 {
				doc.PutTransport(t)
			}
		}
	}); err != nil {
		return err
	}

	var stale []*model.OfferDocument
	for _, doc := range holders {
		if doc.OfferID != purchase.OfferID {
			stale = append(stale, doc)
		}
	}
	return h.s.mutateAll(ctx, stale, func(doc *model.OfferDocument) {
		doc.RemovePurchase(purchase.ID)
	})
}
