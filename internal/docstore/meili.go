package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

const taskPollInterval = 50 * time.Millisecond

// DefaultMaxTotalHits replaces the Meilisearch default of 1000 so reverse
// lookups can page through wide fan-outs.
const DefaultMaxTotalHits = 100000

// Meili implements Store on a Meilisearch index. Writes are asynchronous in
// Meilisearch, so every write waits for its task before returning.
type Meili struct {
	client       meili.ServiceManager
	index        string
	maxTotalHits int64
	healthy      atomic.Bool
	done         chan struct{}
}

var (
	meiliFilterable = []string{
		"id", "offerId", "sellerId", "sellerNetworkId", "status",
		"vin", "vehicleYear", "vehicleMake", "vehicleModel", "mileage", "createdAt", "lastModifiedAt",
		"seller", "seller.sellerId",
		"purchases", "purchases.id", "purchases.buyerId", "purchases.offerId", "purchases.buyer", "purchases.buyer.buyerId",
		"transports", "transports.id", "transports.carrierId", "transports.purchaseId", "transports.carrier", "transports.carrier.id",
	}
	// Attribute order is the ranking weight: earlier attributes score higher.
	meiliSearchable = []string{"vin", "vehicleMake", "vehicleModel", "seller.name", "sellerName", "searchableText"}
	meiliSortable   = []string{"id", "createdAt", "lastModifiedAt", "mileage", "vehicleYear"}
)

// NewMeili creates a Meilisearch-backed store and starts its health monitor.
// maxTotalHits bounds offset paging; zero or less means DefaultMaxTotalHits.
// An unreachable server is not fatal; the index is configured once it recovers.
func NewMeili(url, apiKey, index string, maxTotalHits int64) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:       client,
		index:        index,
		maxTotalHits: maxTotalHits,
		done:         make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("docstore: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		if err := m.EnsureIndex(context.Background()); err != nil {
			log.Printf("docstore: configure index %s: %v", index, err)
		}
	}

	go m.healthLoop()
	return m
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Printf("docstore: meilisearch recovered, reconfiguring index %s", m.index)
				if err := m.EnsureIndex(context.Background()); err != nil {
					log.Printf("docstore: configure index %s: %v", m.index, err)
				}
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Ping(ctx context.Context) error {
	if _, err := m.client.HealthWithContext(ctx); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("meilisearch health: %w", err)
	}
	m.healthy.Store(true)
	return nil
}

func (m *Meili) EnsureIndex(ctx context.Context) error {
	task, err := m.client.CreateIndexWithContext(ctx, &meili.IndexConfig{
		Uid:        m.index,
		PrimaryKey: "id",
	})
	if err != nil {
		return fmt.Errorf("create index %s: %w", m.index, err)
	}
	if err := m.wait(ctx, task); err != nil {
		log.Printf("docstore: create index %s (may already exist): %v", m.index, err)
	}

	index := m.client.Index(m.index)
	filterable := make([]interface{}, len(meiliFilterable))
	for i, v := range meiliFilterable {
		filterable[i] = v
	}
	task, err = index.UpdateFilterableAttributesWithContext(ctx, &filterable)
	if err != nil {
		return fmt.Errorf("update filterable attrs for %s: %w", m.index, err)
	}
	if err := m.wait(ctx, task); err != nil {
		return fmt.Errorf("update filterable attrs for %s: %w", m.index, err)
	}
	searchable := append([]string(nil), meiliSearchable...)
	task, err = index.UpdateSearchableAttributesWithContext(ctx, &searchable)
	if err != nil {
		return fmt.Errorf("update searchable attrs for %s: %w", m.index, err)
	}
	if err := m.wait(ctx, task); err != nil {
		return fmt.Errorf("update searchable attrs for %s: %w", m.index, err)
	}
	sortable := append([]string(nil), meiliSortable...)
	task, err = index.UpdateSortableAttributesWithContext(ctx, &sortable)
	if err != nil {
		return fmt.Errorf("update sortable attrs for %s: %w", m.index, err)
	}
	if err := m.wait(ctx, task); err != nil {
		return fmt.Errorf("update sortable attrs for %s: %w", m.index, err)
	}
	task, err = index.UpdatePaginationWithContext(ctx, &meili.Pagination{MaxTotalHits: int64(m.ResultWindow())})
	if err != nil {
		return fmt.Errorf("update pagination for %s: %w", m.index, err)
	}
	if err := m.wait(ctx, task); err != nil {
		return fmt.Errorf("update pagination for %s: %w", m.index, err)
	}
	return nil
}

// ResultWindow is the index maxTotalHits setting applied by EnsureIndex.
func (m *Meili) ResultWindow() int {
	if m.maxTotalHits <= 0 {
		return DefaultMaxTotalHits
	}
	return int(m.maxTotalHits)
}

func (m *Meili) Upsert(ctx context.Context, doc *model.OfferDocument) error {
	task, err := m.client.Index(m.index).AddDocumentsWithContext(ctx, []*model.OfferDocument{doc}, nil)
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	if err := m.wait(ctx, task); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return nil
}

func (m *Meili) Get(ctx context.Context, id string) (*model.OfferDocument, error) {
	var doc model.OfferDocument
	if err := m.client.Index(m.index).GetDocumentWithContext(ctx, id, nil, &doc); err != nil {
		if isMeiliNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

func (m *Meili) Delete(ctx context.Context, id string) error {
	task, err := m.client.Index(m.index).DeleteDocumentWithContext(ctx, id, nil)
	if err != nil {
		if isMeiliNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if err := m.wait(ctx, task); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (m *Meili) Query(ctx context.Context, q Query) (Result, error) {
	expr := filter.Simplify(q.Filter)
	if _, none := expr.(filter.MatchNone); none {
		return emptyResult(q), nil
	}
	filterString := ""
	if _, all := expr.(filter.MatchAll); !all {
		rendered, err := meiliFilter(expr)
		if err != nil {
			return Result{}, err
		}
		filterString = rendered
	}

	req := &meili.SearchRequest{
		Offset:           int64(max(q.Offset, 0)),
		Limit:            int64(q.Limit),
		ShowRankingScore: true,
	}
	if filterString != "" {
		req.Filter = filterString
	}
	if len(q.Fields) > 0 {
		req.AttributesToRetrieve = append([]string{"id"}, q.Fields...)
	}
	if q.Text != nil {
		for _, f := range q.Text.Fields {
			req.AttributesToSearchOn = append(req.AttributesToSearchOn, f.Name)
		}
	}
	for _, s := range q.Sort {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		req.Sort = append(req.Sort, s.Field+":"+dir)
	}
	var ranges []Aggregation
	for _, agg := range q.Aggregations {
		if len(agg.Ranges) > 0 {
			ranges = append(ranges, agg)
			continue
		}
		req.Facets = append(req.Facets, agg.Field)
	}

	resp, err := m.client.Index(m.index).SearchWithContext(ctx, q.Text.String(), req)
	if err != nil {
		return Result{}, fmt.Errorf("meilisearch search: %w", err)
	}

	res := Result{Total: resp.EstimatedTotalHits}
	for _, hit := range resp.Hits {
		h, err := meiliHit(hit)
		if err != nil {
			return Result{}, err
		}
		res.Hits = append(res.Hits, h)
	}

	if len(q.Aggregations) > 0 {
		facets, err := decodeFacets(resp.FacetDistribution)
		if err != nil {
			return Result{}, err
		}
		res.Aggregations = make(map[string][]Bucket, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			if len(agg.Ranges) == 0 {
				res.Aggregations[agg.Name] = topBuckets(facets[agg.Field], agg.Size)
			}
		}
		for _, agg := range ranges {
			buckets, err := m.countRanges(ctx, q.Text.String(), expr, agg)
			if err != nil {
				return Result{}, err
			}
			res.Aggregations[agg.Name] = buckets
		}
	}
	return res, nil
}

// countRanges issues one count-only query per bucket in a single multi-search.
func (m *Meili) countRanges(ctx context.Context, text string, base filter.Expr, agg Aggregation) ([]Bucket, error) {
	queries := make([]*meili.SearchRequest, 0, len(agg.Ranges))
	for _, r := range agg.Ranges {
		rendered, err := meiliFilter(filter.AllOf(base, filter.Between(agg.Field, r.From, r.To)))
		if err != nil {
			return nil, err
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:             m.index,
			Query:                text,
			Filter:               rendered,
			Limit:                1,
			AttributesToRetrieve: []string{"id"},
		})
	}
	resp, err := m.client.MultiSearchWithContext(ctx, &meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		return nil, fmt.Errorf("meilisearch range counts: %w", err)
	}
	buckets := make([]Bucket, len(agg.Ranges))
	for i, r := range agg.Ranges {
		buckets[i] = Bucket{Key: r.Key}
		if i < len(resp.Results) {
			buckets[i].Count = resp.Results[i].EstimatedTotalHits
		}
	}
	return buckets, nil
}

func (m *Meili) wait(ctx context.Context, info *meili.TaskInfo) error {
	if info == nil {
		return nil
	}
	task, err := m.client.WaitForTaskWithContext(ctx, info.TaskUID, taskPollInterval)
	if err != nil {
		return fmt.Errorf("wait for task %d: %w", info.TaskUID, err)
	}
	if task.Status != meili.TaskStatusSucceeded {
		return fmt.Errorf("task %d %s: %s", info.TaskUID, task.Status, task.Error.Message)
	}
	return nil
}

func meiliHit(hit meili.Hit) (Hit, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Hit{}, fmt.Errorf("encode hit: %w", err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return Hit{}, err
	}
	var meta struct {
		Score float64 `json:"_rankingScore"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Hit{}, fmt.Errorf("decode hit score: %w", err)
	}
	return Hit{ID: doc.ID, Score: meta.Score, Document: doc}, nil
}

// decodeFacets normalizes the facet distribution whatever concrete type the
// client library hands back.
func decodeFacets(distribution any) (map[string]map[string]int64, error) {
	out := map[string]map[string]int64{}
	if distribution == nil {
		return out, nil
	}
	raw, err := json.Marshal(distribution)
	if err != nil {
		return nil, fmt.Errorf("encode facets: %w", err)
	}
	if string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode facets: %w", err)
	}
	return out, nil
}

func isMeiliNotFound(err error) bool {
	var apiErr *meili.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return strings.Contains(err.Error(), "not_found")
}
