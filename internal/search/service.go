package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"offersearch/api/internal/docstore"
	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
	"offersearch/api/internal/rbac"
)

var (
	ErrInvalidRequest = errors.New("invalid search request")
	ErrCanceled       = errors.New("search canceled")
	ErrNotFound       = errors.New("offer not found")
	ErrForbidden      = errors.New("operation not permitted")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Relevance weights for the full-text match, highest first.
var searchFields = []docstore.WeightedField{
	{Name: "vin", Weight: 3},
	{Name: "vehicleMake", Weight: 2},
	{Name: "vehicleModel", Weight: 2},
	{Name: "seller.name", Weight: 1.5},
	{Name: "searchableText", Weight: 1},
}

var autocompleteFields = []docstore.WeightedField{
	{Name: "vin", Weight: 3},
	{Name: "vehicleMake", Weight: 2},
	{Name: "vehicleModel", Weight: 2},
	{Name: "sellerName", Weight: 1.5},
}

var suggestionAttributes = []string{"offerId", "vehicleYear", "vehicleMake", "vehicleModel", "vin", "sellerName"}

func aggregations() []docstore.Aggregation {
	bound := func(v float64) *float64 { return &v }
	return []docstore.Aggregation{
		{Name: "makes", Field: "vehicleMake", Size: 20},
		{Name: "models", Field: "vehicleModel", Size: 20},
		{Name: "years", Field: "vehicleYear", Size: 20},
		{Name: "status", Field: "status", Size: 10},
		{Name: "mileage_ranges", Field: "mileage", Ranges: []docstore.RangeBucket{
			{Key: "0-50k", To: bound(50000)},
			{Key: "50k-100k", From: bound(50000), To: bound(100000)},
			{Key: "100k-150k", From: bound(100000), To: bound(150000)},
			{Key: "150k+", From: bound(150000)},
		}},
	}
}

// Service answers read-path queries. It holds no mutable state and is safe
// for concurrent use.
type Service struct {
	store docstore.Store
}

func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Search runs a ranked, access-filtered query.
func (s *Service) Search(ctx context.Context, req Request, user rbac.UserContext) (ResultSet, error) {
	started := time.Now()
	if err := validate.Struct(req); err != nil {
		return ResultSet{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	kindFilter, err := entityKindFilter(req.EntityKinds)
	if err != nil {
		return ResultSet{}, err
	}
	pageSize := clamp(req.PageSize, DefaultPageSize, MaxPageSize)

	expanded := ExpandSynonyms(req.Query)
	q := docstore.Query{
		Filter: filter.AllOf(kindFilter, statusFilter(req.Status), rbac.BuildFilter(user)),
		Offset: req.Page * pageSize,
		Limit:  pageSize,
		Sort:   sortFor(req),
	}
	if terms := queryTerms(expanded); len(terms) > 0 {
		q.Text = &docstore.TextQuery{Terms: terms, Fields: searchFields, Fuzzy: true}
	}
	if req.IncludeAggregations {
		q.Aggregations = aggregations()
	}

	res, err := s.query(ctx, q)
	if err != nil {
		return ResultSet{}, err
	}

	out := ResultSet{
		Success:       true,
		Total:         res.Total,
		Items:         items(res.Hits, user),
		Aggregations:  res.Aggregations,
		Detected:      DetectEntities(req.Query),
		ExpandedQuery: expanded,
		Page:          req.Page,
		PageSize:      pageSize,
		TotalPages:    int((res.Total + int64(pageSize) - 1) / int64(pageSize)),
		ElapsedMs:     time.Since(started).Milliseconds(),
	}
	return out, nil
}

// Autocomplete returns type-ahead suggestions for a partial query.
func (s *Service) Autocomplete(ctx context.Context, req AutocompleteRequest, user rbac.UserContext) (AutocompleteResult, error) {
	if err := validate.Struct(req); err != nil {
		return AutocompleteResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	terms := queryTerms(req.Query)
	if len(terms) == 0 {
		return AutocompleteResult{Success: true, Suggestions: []Suggestion{}}, nil
	}

	res, err := s.query(ctx, docstore.Query{
		Filter: rbac.BuildFilter(user),
		Text:   &docstore.TextQuery{Terms: terms, Fields: autocompleteFields, Fuzzy: true, Prefix: true},
		Limit:  clamp(req.MaxResults, DefaultAutocompleteMax, MaxAutocomplete),
		Fields: suggestionAttributes,
	})
	if err != nil {
		return AutocompleteResult{}, err
	}

	suggestions := make([]Suggestion, 0, len(res.Hits))
	for _, hit := range res.Hits {
		suggestions = append(suggestions, suggest(hit))
	}
	return AutocompleteResult{Success: true, Suggestions: suggestions}, nil
}

// GetOffer loads one document if the caller may see it. Invisible and absent
// documents are indistinguishable.
func (s *Service) GetOffer(ctx context.Context, id string, user rbac.UserContext) (*model.OfferDocument, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: offer id required", ErrInvalidRequest)
	}
	res, err := s.query(ctx, docstore.Query{
		Filter: filter.AllOf(filter.Eq("id", id), rbac.BuildFilter(user)),
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return nil, ErrNotFound
	}
	return rbac.Scope(user, res.Hits[0].Document), nil
}

// FindByEntity lists the documents that embed or reference the given entity.
func (s *Service) FindByEntity(ctx context.Context, kind string, id string, page, pageSize int, user rbac.UserContext) (ResultSet, error) {
	started := time.Now()
	entityKind, ok := model.ParseKind(kind)
	if !ok {
		return ResultSet{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidRequest, kind)
	}
	id = strings.TrimSpace(id)
	if id == "" || page < 0 || pageSize < 0 {
		return ResultSet{}, fmt.Errorf("%w: entity id and a non-negative page are required", ErrInvalidRequest)
	}
	if page > MaxPage {
		return ResultSet{}, fmt.Errorf("%w: page must not exceed %d", ErrInvalidRequest, MaxPage)
	}
	pageSize = clamp(pageSize, DefaultPageSize, MaxPageSize)

	res, err := s.query(ctx, docstore.Query{
		Filter: filter.AllOf(filter.Eq(model.ReferenceField(entityKind), id), rbac.BuildFilter(user)),
		Sort:   []docstore.SortField{{Field: "createdAt", Desc: true}},
		Offset: page * pageSize,
		Limit:  pageSize,
	})
	if err != nil {
		return ResultSet{}, err
	}
	return ResultSet{
		Success:    true,
		Total:      res.Total,
		Items:      items(res.Hits, user),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((res.Total + int64(pageSize) - 1) / int64(pageSize)),
		ElapsedMs:  time.Since(started).Milliseconds(),
	}, nil
}

// EnsureIndex creates or reconfigures the offer index. Agents only.
func (s *Service) EnsureIndex(ctx context.Context, user rbac.UserContext) error {
	if !rbac.CanAdminister(user) {
		return ErrForbidden
	}
	if err := s.store.EnsureIndex(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
		}
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Ping reports whether the document store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) query(ctx context.Context, q docstore.Query) (docstore.Result, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Result{}, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	res, err := s.store.Query(ctx, q)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return docstore.Result{}, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		log.Printf("search: store query failed: %v", err)
		return docstore.Result{}, fmt.Errorf("query documents: %w", err)
	}
	return res, nil
}

// entityKindFilter keeps documents that contain at least one entity of any
// requested kind. No kinds, or the offer kind, means every document.
func entityKindFilter(kinds []string) (filter.Expr, error) {
	if len(kinds) == 0 {
		return filter.All(), nil
	}
	var alts []filter.Expr
	for _, raw := range kinds {
		kind, ok := model.ParseKind(raw)
		if !ok {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidRequest, raw)
		}
		switch kind {
		case model.KindOffer:
			alts = append(alts, filter.All())
		case model.KindPurchase:
			alts = append(alts, filter.Within("purchases", filter.Has("id")))
		case model.KindTransport:
			alts = append(alts, filter.Within("transports", filter.Has("id")))
		case model.KindSeller:
			alts = append(alts, filter.Has("seller.sellerId"))
		case model.KindBuyer:
			alts = append(alts, filter.Within("purchases", filter.Has("buyer.buyerId")))
		case model.KindCarrier:
			alts = append(alts, filter.Within("transports", filter.Has("carrier.id")))
		}
	}
	return filter.AnyOf(alts...), nil
}

func statusFilter(status string) filter.Expr {
	status = strings.TrimSpace(status)
	if status == "" {
		return filter.All()
	}
	return filter.Eq("status", status)
}

// sortFor orders by the requested field, by relevance when there is query
// text, and by newest first otherwise.
func sortFor(req Request) []docstore.SortField {
	if req.SortField != "" {
		return []docstore.SortField{{Field: req.SortField, Desc: !strings.EqualFold(req.SortOrder, "asc")}}
	}
	if strings.TrimSpace(req.Query) != "" {
		return nil
	}
	return []docstore.SortField{{Field: "createdAt", Desc: true}}
}

func items(hits []docstore.Hit, user rbac.UserContext) []Item {
	out := make([]Item, 0, len(hits))
	for _, hit := range hits {
		doc := rbac.Scope(user, hit.Document)
		if doc == nil {
			continue
		}
		out = append(out, Item{
			ID:         hit.ID,
			Score:      hit.Score,
			OfferID:    doc.OfferID.String(),
			VIN:        doc.VIN,
			Make:       doc.VehicleMake,
			Model:      doc.VehicleModel,
			Year:       doc.VehicleYear,
			Mileage:    doc.Mileage,
			Status:     doc.Status,
			SellerName: doc.SellerName,
			Document:   doc,
		})
	}
	return out
}

func suggest(hit docstore.Hit) Suggestion {
	doc := hit.Document
	value := strings.TrimSpace(doc.VehicleMake + " " + doc.VehicleModel)
	if doc.VIN != "" {
		value += " - " + doc.VIN
	}
	return Suggestion{
		Value:    value,
		Label:    strings.Join(strings.Fields(doc.VehicleYear+" "+doc.VehicleMake+" "+doc.VehicleModel), " "),
		ID:       hit.ID,
		Category: "offer",
	}
}

func clamp(n, fallback, limit int) int {
	if n <= 0 {
		return fallback
	}
	return min(n, limit)
}
