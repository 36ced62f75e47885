package syncer

import (
	"context"
	"fmt"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

// Profile handlers fan a changed seller, buyer or carrier out to every
// document that embeds a snapshot of it. Deletes clear the snapshot only.

type sellerHandler struct {
	s *Synchronizer
}

func (h sellerHandler) Create(ctx context.Context, cmd model.Command) error {
	return h.put(ctx, cmd)
}

func (h sellerHandler) Update(ctx context.Context, cmd model.Command) error {
	return h.put(ctx, cmd)
}

func (h sellerHandler) put(ctx context.Context, cmd model.Command) error {
	seller, err := decode[model.Seller](cmd)
	if err != nil {
		return err
	}
	id := seller.EntityID()
	if id.IsZero() {
		return malformed(fmt.Errorf("seller payload for %s has no id", cmd.DocumentID))
	}
	snap := seller.Snapshot()
	return h.fanOut(ctx, id, func(doc *model.OfferDocument) { doc.SetSeller(snap) })
}

func (h sellerHandler) Delete(ctx context.Context, cmd model.Command) error {
	id, err := payloadID(cmd)
	if err != nil {
		return err
	}
	return h.fanOut(ctx, id, func(doc *model.OfferDocument) { doc.SetSeller(nil) })
}

func (h sellerHandler) fanOut(ctx context.Context, id model.ID, fn func(*model.OfferDocument)) error {
	h.s.invalidate(ctx, model.KindSeller, id)
	docs, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindSeller), id.String()))
	if err != nil {
		return err
	}
	return h.s.mutateAll(ctx, docs, fn)
}

type buyerHandler struct {
	s *Synchronizer
}

func (h buyerHandler) Create(ctx context.Context, cmd model.Command) error {
	return h.put(ctx, cmd)
}

func (h buyerHandler) Update(ctx context.Context, cmd model.Command) error {
	return h.put(ctx, cmd)
}

func (h buyerHandler) put(ctx context.Context, cmd model.Command) error {
	buyer, err := decode[model.Buyer](cmd)
	if err != nil {
		return err
	}
	if buyer.ID.IsZero() {
		return malformed(fmt.Errorf("buyer payload for %s has no id", cmd.DocumentID))
	}
	snap := buyer.Snapshot()
	return h.fanOut(ctx, buyer.ID, func(doc *model.OfferDocument) { doc.SetBuyer(buyer.ID, snap) })
}

func (h buyerHandler) Delete(ctx context.Context, cmd model.Command) error {
	id, err := payloadID(cmd)
	if err != nil {
		return err
	}
	return h.fanOut(ctx, id, func(doc *model.OfferDocument) { doc.SetBuyer(id, nil) })
}

func (h buyerHandler) fanOut(ctx context.Context, id model.ID, fn func(*model.OfferDocument)) error {
	h.s.invalidate(ctx, model.KindBuyer, id)
	docs, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindBuyer), id.String()))
	if err != nil {
		return err
	}
	return h.s.mutateAll(ctx, docs, fn)
}

type carrierHandler struct {
	s *Synchronizer
}

func (h carrierHandler) Create(ctx context.Context, cmd model.Command) error {
	return h.put(ctx, cmd)
}

func (h carrierHandler) Update(ctx context.Context, cmd model.Command) error {
	return h.put(ctx, cmd)
}

func (h carrierHandler) put(ctx context.Context, cmd model.Command) error {
	carrier, err := decode[model.Carrier](cmd)
	if err != nil {
		return err
	}
	if carrier.ID.IsZero() {
		return malformed(fmt.Errorf("carrier payload for %s has no id", cmd.DocumentID))
	}
	snap := carrier.Snapshot()
	return h.fanOut(ctx, carrier.ID, func(doc *model.OfferDocument) { doc.SetCarrier(carrier.ID, snap) })
}

func (h carrierHandler) Delete(ctx context.Context, cmd model.Command) error {
	id, err := payloadID(cmd)
	if err != nil {
		return err
	}
	return h.fanOut(ctx, id, func(doc *model.OfferDocument) { doc.SetCarrier(id, nil) })
}

func (h carrierHandler) fanOut(ctx context.Context, id model.ID, fn func(*model.OfferDocument)) error {
	h.s.invalidate(ctx, model.KindCarrier, id)
	docs, err := h.s.lookup(ctx, filter.Eq(model.ReferenceField(model.KindCarrier), id.String()))
	if err != nil {
		return err
	}
	return h.s.mutateAll(ctx, docs, fn)
}
