// Package syncer keeps offer documents current. Every upstream change arrives
// as a Command; Apply folds it into each document it touches. Applying the
// same command twice leaves the store as it was after the first application.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"offersearch/api/internal/docstore"
	"offersearch/api/internal/entitydata"
	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

// ErrMalformed marks commands that can never succeed. Callers drop them
// instead of retrying.
var ErrMalformed = errors.New("malformed command")

// ErrLookupTruncated means a reverse lookup hit the store's result window, so
// documents past it could not be reached. Raise the window and redeliver.
var ErrLookupTruncated = errors.New("reverse lookup truncated by store result window")

// DefaultPageSize is the page size for reverse lookups.
const DefaultPageSize = 500

// Handler applies the three operations for one entity kind.
type Handler interface {
	Create(ctx context.Context, cmd model.Command) error
	Update(ctx context.Context, cmd model.Command) error
	Delete(ctx context.Context, cmd model.Command) error
}

type Synchronizer struct {
	store    docstore.Store
	provider entitydata.Provider
	handlers map[model.EntityKind]Handler
	pageSize int
}

type Option func(*Synchronizer)

// WithPageSize overrides the reverse lookup page size.
func WithPageSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func New(store docstore.Store, provider entitydata.Provider, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		provider: provider,
		pageSize: DefaultPageSize,
	}
	s.handlers = map[model.EntityKind]Handler{
		model.KindOffer:     offerHandler{s},
		model.KindPurchase:  purchaseHandler{s},
		model.KindTransport: transportHandler{s},
		model.KindSeller:    sellerHandler{s},
		model.KindBuyer:     buyerHandler{s},
		model.KindCarrier:   carrierHandler{s},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply routes the command to the handler for its entity kind.
func (s *Synchronizer) Apply(ctx context.Context, cmd model.Command) error {
	if err := cmd.Validate(); err != nil {
		return malformed(err)
	}
	h, ok := s.handlers[cmd.EntityKind]
	if !ok {
		return malformed(fmt.Errorf("no handler for entity kind %q", cmd.EntityKind))
	}
	switch cmd.Operation {
	case model.OpCreate:
		return h.Create(ctx, cmd)
	case model.OpUpdate:
		return h.Update(ctx, cmd)
	case model.OpDelete:
		return h.Delete(ctx, cmd)
	default:
		return malformed(fmt.Errorf("unknown operation %q", cmd.Operation))
	}
}

// ApplyRaw decodes a wire message and applies it.
func (s *Synchronizer) ApplyRaw(ctx context.Context, data []byte) error {
	cmd, err := model.DecodeCommand(data)
	if err != nil {
		return malformed(err)
	}
	return s.Apply(ctx, cmd)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// decode reads the command payload as T, classifying failures as malformed.
func decode[T any](cmd model.Command) (T, error) {
	out, err := model.Decode[T](cmd.Payload)
	if err != nil {
		return out, malformed(err)
	}
	return out, nil
}

// payloadID extracts the entity id, used by deletes whose payload may carry
// nothing else.
func payloadID(cmd model.Command) (model.ID, error) {
	if len(cmd.Payload) == 0 {
		return "", malformed(fmt.Errorf("%s %s: empty payload", cmd.EntityKind, cmd.Operation))
	}
	id, err := model.EntityID(cmd.EntityKind, cmd.Payload)
	if err != nil {
		return "", malformed(err)
	}
	return id, nil
}

// lookup returns every document matching expr, paging through the store in
// id order. The full set is read before any of it is modified. Reaching the
// store's result window is an error; stores report totals capped at the
// window, so the end cannot be told apart from truncation there.
func (s *Synchronizer) lookup(ctx context.Context, expr filter.Expr) ([]*model.OfferDocument, error) {
	window := 0
	if w, ok := s.store.(docstore.Windowed); ok {
		window = w.ResultWindow()
	}
	var out []*model.OfferDocument
	offset := 0
	for {
		res, err := s.store.Query(ctx, docstore.Query{
			Filter: expr,
			Sort:   []docstore.SortField{{Field: "id"}},
			Offset: offset,
			Limit:  s.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("reverse lookup: %w", err)
		}
		for _, hit := range res.Hits {
			out = append(out, hit.Document)
		}
		offset += len(res.Hits)
		if window > 0 && offset >= window {
			return nil, fmt.Errorf("%w: %d hits", ErrLookupTruncated, window)
		}
		if len(res.Hits) < s.pageSize || int64(offset) >= res.Total {
			return out, nil
		}
	}
}

// mutate applies fn to a copy of doc and stores the copy unless nothing changed.
func (s *Synchronizer) mutate(ctx context.Context, doc *model.OfferDocument, fn func(*model.OfferDocument)) error {
	next := doc.Clone()
	fn(next)
	next.Prune()
	if next.Equal(doc) {
		return nil
	}
	return s.write(ctx, next)
}

// mutateAll runs mutate on every document. Each document is an independent
// write; failures are collected so one bad document does not starve the rest.
func (s *Synchronizer) mutateAll(ctx context.Context, docs []*model.OfferDocument, fn func(*model.OfferDocument)) error {
	var errs []error
	for _, doc := range docs {
		if err := s.mutate(ctx, doc, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// write issues the upsert detached from ctx so a shutdown cannot interrupt a
// write that has already started.
func (s *Synchronizer) write(ctx context.Context, doc *model.OfferDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Upsert(context.WithoutCancel(ctx), doc); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Synchronizer) remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (s *Synchronizer) invalidate(ctx context.Context, kind model.EntityKind, id model.ID) {
	inv, ok := s.provider.(entitydata.Invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, kind, id); err != nil {
		log.Printf("syncer: invalidate cached %s %s: %v", kind, id, err)
	}
}

func referentialGap(cmd model.Command, format string, args ...any) error {
	log.Printf("syncer: %s %s for %s skipped: %s", cmd.EntityKind, cmd.Operation, cmd.DocumentID, fmt.Sprintf(format, args...))
	return nil
}

func indexByID(docs []*model.OfferDocument) map[string]struct{} {
	out := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		out[d.ID] = struct{}{}
	}
	return out
}
