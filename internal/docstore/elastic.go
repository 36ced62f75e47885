package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

// esMaxResultWindow is the index.max_result_window default; from+size may not
// exceed it.
const esMaxResultWindow = 10000

// Elastic implements Store on an Elasticsearch index with nested purchase and
// transport mappings.
type Elastic struct {
	es    *elasticsearch.Client
	index string
}

// NewElastic creates a client pointed at the given URL. It does not contact
// the cluster; call Ping or EnsureIndex for that.
func NewElastic(url, index string) (*Elastic, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{es: es, index: index}, nil
}

func (e *Elastic) ResultWindow() int {
	return esMaxResultWindow
}

func (e *Elastic) Ping(ctx context.Context) error {
	res, err := e.es.Ping(e.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping [%s]", res.Status())
	}
	return nil
}

func (e *Elastic) EnsureIndex(ctx context.Context) error {
	res, err := e.es.Indices.Exists([]string{e.index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(esMapping())
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	res, err = e.es.Indices.Create(
		e.index,
		e.es.Indices.Create.WithBody(bytes.NewReader(body)),
		e.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("create index "+e.index, res)
	}
	return nil
}

func (e *Elastic) Upsert(ctx context.Context, doc *model.OfferDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	res, err := e.es.Index(
		e.index,
		bytes.NewReader(body),
		e.es.Index.WithDocumentID(doc.ID),
		e.es.Index.WithRefresh("wait_for"),
		e.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index document "+doc.ID, res)
	}
	return nil
}

func (e *Elastic) Get(ctx context.Context, id string) (*model.OfferDocument, error) {
	res, err := e.es.Get(e.index, id, e.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, responseError("get document "+id, res)
	}
	var envelope struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if !envelope.Found {
		return nil, ErrNotFound
	}
	return decodeDocument(envelope.Source)
}

func (e *Elastic) Delete(ctx context.Context, id string) error {
	res, err := e.es.Delete(
		e.index,
		id,
		e.es.Delete.WithRefresh("wait_for"),
		e.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete document "+id, res)
	}
	return nil
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  *float64        `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key      any   `json:"key"`
			DocCount int64 `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

func (e *Elastic) Query(ctx context.Context, q Query) (Result, error) {
	expr := filter.Simplify(q.Filter)
	if _, none := expr.(filter.MatchNone); none {
		return emptyResult(q), nil
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esSearchBody(q, expr)); err != nil {
		return Result{}, fmt.Errorf("encode search: %w", err)
	}
	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(e.index),
		e.es.Search.WithBody(&buf),
	)
	if err != nil {
		return Result{}, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return Result{}, responseError("elasticsearch search", res)
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode search response: %w", err)
	}

	out := Result{Total: parsed.Hits.Total.Value}
	for _, h := range parsed.Hits.Hits {
		doc, err := decodeDocument(h.Source)
		if err != nil {
			return Result{}, err
		}
		if doc.ID == "" {
			doc.ID = h.ID
		}
		hit := Hit{ID: h.ID, Document: doc}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		out.Hits = append(out.Hits, hit)
	}
	if len(q.Aggregations) > 0 {
		out.Aggregations = make(map[string][]Bucket, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			raw := parsed.Aggregations[agg.Name]
			buckets := make([]Bucket, 0, len(raw.Buckets))
			for _, b := range raw.Buckets {
				buckets = append(buckets, Bucket{Key: filter.Format(b.Key), Count: b.DocCount})
			}
			out.Aggregations[agg.Name] = buckets
		}
	}
	return out, nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("%s [%s]: %s", op, res.Status(), body)
}
