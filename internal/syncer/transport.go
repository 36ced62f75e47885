package syncer

import (
	"context"
	"fmt"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

type transportHandler struct {
	s *Synchronizer
}

func (h transportHandler) Create(ctx context.Context, cmd model.Command) error {
	return h.place(ctx, cmd, false)
}

func (h transportHandler) Update(ctx context.Context, cmd model.Command) error {
	return h.place(ctx, cmd, true)
}

func (h transportHandler) Delete(ctx context.Context, cmd model.Command) error {
	id, err := payloadID(cmd)
	if err != nil {
		return err
	}
	holders, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindTransport), id.String()))
	if err != nil {
		return err
	}
	return h.s.mutateAll(ctx, holders, func(doc *model.OfferDocument) {
		doc.RemoveTransport(id)
	})
}

// place puts the transport next to its purchase. The carrier snapshot is never
// fetched here; it is kept from the previous entry when the carrier is the
// same and otherwise filled in by carrier events.
func (h transportHandler) place(ctx context.Context, cmd model.Command, update bool) error {
	transport, err := decode[model.Transport](cmd)
	if err != nil {
		return err
	}
	if transport.ID.IsZero() || transport.PurchaseID.IsZero() {
		return malformed(fmt.Errorf("transport payload for %s needs id and purchaseId", cmd.DocumentID))
	}

	holders, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindTransport), transport.ID.String()))
	if err != nil {
		return err
	}
	if update && len(holders) == 0 {
		return referentialGap(cmd, "no document holds transport %s", transport.ID)
	}
	targets, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindPurchase), transport.PurchaseID.String()))
	if err != nil {
		return err
	}
	if !update && len(targets) == 0 {
		return referentialGap(cmd, "no document holds purchase %s", transport.PurchaseID)
	}

	record := model.TransportRecord{Transport: transport}
	for _, doc := range holders {
		if i := doc.TransportIndex(transport.ID); i >= 0 {
			if prev := doc.Transports[i]; prev.CarrierID == transport.CarrierID {
				record.Carrier = prev.Carrier
			}
			break
		}
	}

	if err := h.s.mutateAll(ctx, targets, func(doc *model.OfferDocument) {
		doc.PutTransport(record)
	}); err != nil {
		return err
	}

	keep := indexByID(targets)
	var stale []*model.OfferDocument
	for _, doc := range holders {
		if _, ok := keep[doc.ID]; !ok {
			stale = append(stale, doc)
		}
	}
	return h.s.mutateAll(ctx, stale, func(doc *model.OfferDocument) {
		doc.RemoveTransport(transport.ID)
	})
}
