package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/agext/levenshtein"

	"offersearch/api/internal/filter"
	"offersearch/api/internal/model"
)

// Memory is an in-process Store. It evaluates filters with filter.Match and
// scores text with token, prefix and edit-distance matching. It backs tests
// and single-node development runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Upsert(ctx context.Context, doc *model.OfferDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	m.mu.Lock()
	m.docs[doc.ID] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.OfferDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	raw, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeDocument(raw)
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) EnsureIndex(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports how many documents are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

type scored struct {
	id    string
	score float64
	doc   map[string]any
}

func (m *Memory) Query(ctx context.Context, q Query) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	expr := filter.Simplify(q.Filter)
	if _, none := expr.(filter.MatchNone); none {
		return emptyResult(q), nil
	}

	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.docs))
	for id, raw := range m.docs {
		snapshot[id] = raw
	}
	m.mu.RUnlock()

	var matched []scored
	for id, raw := range snapshot {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Result{}, fmt.Errorf("decode document %s: %w", id, err)
		}
		if !filter.Match(expr, doc) {
			continue
		}
		score := 0.0
		if !q.Text.empty() {
			score = textScore(q.Text, doc)
			if score <= 0 {
				continue
			}
		}
		matched = append(matched, scored{id: id, score: score, doc: doc})
	}

	sortScored(matched, q)

	res := Result{Total: int64(len(matched)), Aggregations: aggregate(q.Aggregations, matched)}
	start := min(max(q.Offset, 0), len(matched))
	end := len(matched)
	if q.Limit > 0 {
		end = min(start+q.Limit, len(matched))
	}
	for _, s := range matched[start:end] {
		raw, err := json.Marshal(project(s.doc, q.Fields))
		if err != nil {
			return Result{}, fmt.Errorf("encode hit %s: %w", s.id, err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return Result{}, err
		}
		res.Hits = append(res.Hits, Hit{ID: s.id, Score: s.score, Document: doc})
	}
	return res, nil
}

func emptyResult(q Query) Result {
	res := Result{}
	if len(q.Aggregations) > 0 {
		res.Aggregations = aggregate(q.Aggregations, nil)
	}
	return res
}

func sortScored(items []scored, q Query) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		for _, s := range q.Sort {
			c := compareValues(first(a.doc, s.Field), first(b.doc, s.Field))
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.id < b.id
	})
}

func first(doc map[string]any, field string) any {
	values := filter.Lookup(doc, field)
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// compareValues orders nil first, numbers numerically and anything else by
// its string form.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	an, aok := a.(float64)
	bn, bok := b.(float64)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(filter.Format(a), filter.Format(b))
}

func aggregate(specs []Aggregation, items []scored) map[string][]Bucket {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string][]Bucket, len(specs))
	for _, spec := range specs {
		if len(spec.Ranges) > 0 {
			buckets := make([]Bucket, 0, len(spec.Ranges))
			for _, r := range spec.Ranges {
				expr := filter.Between(spec.Field, r.From, r.To)
				var n int64
				for _, it := range items {
					if filter.Match(expr, it.doc) {
						n++
					}
				}
				buckets = append(buckets, Bucket{Key: r.Key, Count: n})
			}
			out[spec.Name] = buckets
			continue
		}

		counts := map[string]int64{}
		for _, it := range items {
			seen := map[string]struct{}{}
			for _, v := range filter.Lookup(it.doc, spec.Field) {
				if v == nil {
					continue
				}
				key := filter.Format(v)
				if key == "" {
					continue
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				counts[key]++
			}
		}
		out[spec.Name] = topBuckets(counts, spec.Size)
	}
	return out
}

// topBuckets orders by count descending, then key, and keeps at most size.
func topBuckets(counts map[string]int64, size int) []Bucket {
	buckets := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		buckets = append(buckets, Bucket{Key: k, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	if size > 0 && len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets
}

// textScore sums, over terms, the best weighted match across the fields.
func textScore(t *TextQuery, doc map[string]any) float64 {
	total := 0.0
	for _, term := range t.Terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		best := 0.0
		for _, f := range t.Fields {
			weight := f.Weight
			if weight <= 0 {
				weight = 1
			}
			for _, v := range filter.Lookup(doc, f.Name) {
				s, ok := v.(string)
				if !ok {
					continue
				}
				if score := weight * tokenScore(term, s, t); score > best {
					best = score
				}
			}
		}
		total += best
	}
	return total
}

func tokenScore(term, value string, t *TextQuery) float64 {
	best := 0.0
	for _, token := range tokenize(value) {
		var s float64
		switch {
		case token == term:
			s = 1
		case t.Prefix && strings.HasPrefix(token, term):
			s = 0.8
		case t.Fuzzy:
			if d := levenshtein.Distance(term, token, nil); d > 0 && d <= fuzziness(term) {
				s = 0.5 / float64(d)
			}
		}
		if s > best {
			best = s
		}
	}
	return best
}

// fuzziness mirrors the AUTO edit distance used by the search engines.
func fuzziness(term string) int {
	switch n := len([]rune(term)); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

func tokenize(value string) []string {
	return strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
