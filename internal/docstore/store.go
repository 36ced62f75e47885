// Package docstore persists offer documents and answers filtered, ranked
// queries over them. Search engines do the heavy lifting; this package only
// translates between the document model and each engine's API.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

// ErrNotFound is returned by Get when no document has the requested id.
var ErrNotFound = errors.New("document not found")

// Store is the document store used by both the write path and the read path.
type Store interface {
	// Upsert stores the document under its id, replacing any previous version.
	Upsert(ctx context.Context, doc *model.OfferDocument) error
	Get(ctx context.Context, id string) (*model.OfferDocument, error)
	// Delete removes the document. Deleting an absent document succeeds.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q Query) (Result, error)
	// EnsureIndex creates the index and its settings if they are missing.
	EnsureIndex(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Windowed is implemented by stores that cannot page past a fixed number of
// hits for one query. Hits beyond ResultWindow are unreachable by offset.
type Windowed interface {
	ResultWindow() int
}

// Query is a backend-neutral search request.
type Query struct {
	Filter       filter.Expr
	Text         *TextQuery
	Sort         []SortField
	Offset       int
	Limit        int
	Aggregations []Aggregation
	// Fields limits the returned document attributes. Empty means everything.
	Fields []string
}

// TextQuery is a full-text match of Terms against weighted fields. A document
// matches when any term matches any field.
type TextQuery struct {
	Terms  []string
	Fields []WeightedField
	Fuzzy  bool
	// Prefix treats every term as a prefix, for type-ahead.
	Prefix bool
}

type WeightedField struct {
	Name   string
	Weight float64
}

type SortField struct {
	Field string
	Desc  bool
}

// Aggregation counts documents per distinct value of Field, or per range when
// Ranges is set.
type Aggregation struct {
	Name   string
	Field  string
	Size   int
	Ranges []RangeBucket
}

// RangeBucket is a half-open [From, To) bucket. Nil bounds are open.
type RangeBucket struct {
	Key  string
	From *float64
	To   *float64
}

type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type Hit struct {
	ID       string
	Score    float64
	Document *model.OfferDocument
}

type Result struct {
	Total        int64
	Hits         []Hit
	Aggregations map[string][]Bucket
}

// String joins the terms back into a query string.
func (t *TextQuery) String() string {
	if t == nil {
		return ""
	}
	out := ""
	for i, term := range t.Terms {
		if i > 0 {
			out += " "
		}
		out += term
	}
	return out
}

func (t *TextQuery) empty() bool {
	return t == nil || len(t.Terms) == 0
}

// toMap renders a document as generic JSON values, the shape filter.Match reads.
func toMap(doc *model.OfferDocument) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return out, nil
}

func decodeDocument(raw []byte) (*model.OfferDocument, error) {
	var doc model.OfferDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// project keeps only the requested top-level attributes plus the id.
func project(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return doc
	}
	out := map[string]any{"id": doc["id"]}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}
