// Package entitydata fetches current upstream entity state for the view
// synchronizer: single entities by id and child entities by foreign key.
package entitydata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offersearch/api/internal/model"
)

// ErrNotFound means the upstream entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Provider resolves upstream entities. Payloads use the same camelCase JSON
// shape as the ingress commands.
type Provider interface {
	Get(ctx context.Context, kind model.EntityKind, id model.ID) (json.RawMessage, error)
	ListByForeignKey(ctx context.Context, kind model.EntityKind, field string, id model.ID) ([]json.RawMessage, error)
}

// Invalidator is implemented by providers that cache entities.
type Invalidator interface {
	Invalidate(ctx context.Context, kind model.EntityKind, id model.ID) error
}

// Seller fetches and decodes a seller profile. A missing seller yields nil.
func Seller(ctx context.Context, p Provider, id model.ID) (*model.SellerSnapshot, error) {
	seller, ok, err := fetch[model.Seller](ctx, p, model.KindSeller, id)
	if err != nil || !ok {
		return nil, err
	}
	snap := seller.Snapshot()
	if snap.SellerID.IsZero() {
		snap.SellerID = id
	}
	return snap, nil
}

// Buyer fetches and decodes a buyer profile. A missing buyer yields nil.
func Buyer(ctx context.Context, p Provider, id model.ID) (*model.BuyerSnapshot, error) {
	buyer, ok, err := fetch[model.Buyer](ctx, p, model.KindBuyer, id)
	if err != nil || !ok {
		return nil, err
	}
	snap := buyer.Snapshot()
	if snap.BuyerID.IsZero() {
		snap.BuyerID = id
	}
	return snap, nil
}

// Carrier fetches and decodes a carrier profile. A missing carrier yields nil.
func Carrier(ctx context.Context, p Provider, id model.ID) (*model.CarrierSnapshot, error) {
	carrier, ok, err := fetch[model.Carrier](ctx, p, model.KindCarrier, id)
	if err != nil || !ok {
		return nil, err
	}
	snap := carrier.Snapshot()
	if snap.ID.IsZero() {
		snap.ID = id
	}
	return snap, nil
}

// List fetches and decodes every child entity whose field references id.
func List[T any](ctx context.Context, p Provider, kind model.EntityKind, field string, id model.ID) ([]T, error) {
	raws, err := p.ListByForeignKey(ctx, kind, field, id)
	if err != nil {
		return nil, fmt.Errorf("list %s by %s=%s: %w", kind, field, id, err)
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		item, err := model.Decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func fetch[T any](ctx context.Context, p Provider, kind model.EntityKind, id model.ID) (T, bool, error) {
	var zero T
	if id.IsZero() {
		return zero, false, nil
	}
	raw, err := p.Get(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	out, err := model.Decode[T](raw)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}
