package docstore

import (
	"strings"

	"offersearch/api/internal/filter"
)

// Paths mapped as nested objects in the Elasticsearch index.
var esNestedPaths = []string{"purchases", "transports"}

// Text fields that carry a keyword sub-field for exact matching, sorting and
// aggregation.
var esTextFields = map[string]bool{
	"vin":          true,
	"vehicleYear":  true,
	"vehicleMake":  true,
	"vehicleModel": true,
	"sellerName":   true,
	"seller.name":  true,
}

// esMapping is the index definition. Purchases and transports are nested so
// that a clause inside a nested query must hold for a single element.
func esMapping() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	text := map[string]any{
		"type":   "text",
		"fields": map[string]any{"keyword": map[string]any{"type": "keyword", "ignore_above": 256}},
	}
	date := map[string]any{"type": "date"}
	stamps := func(props map[string]any) map[string]any {
		props["createdAt"] = date
		props["lastModifiedAt"] = date
		return props
	}
	return map[string]any{
		"mappings": map[string]any{
			"properties": stamps(map[string]any{
				"id":              keyword,
				"offerId":         keyword,
				"sellerId":        keyword,
				"sellerNetworkId": keyword,
				"sellerName":      text,
				"vin":             text,
				"vehicleYear":     text,
				"vehicleMake":     text,
				"vehicleModel":    text,
				"status":          keyword,
				"mileage":         map[string]any{"type": "integer"},
				"searchableText":  map[string]any{"type": "text"},
				"seller": map[string]any{"properties": stamps(map[string]any{
					"sellerId": keyword,
					"name":     text,
				})},
				"purchases": map[string]any{"type": "nested", "properties": stamps(map[string]any{
					"id":           keyword,
					"buyerId":      keyword,
					"offerId":      keyword,
					"status":       keyword,
					"purchaseDate": date,
					"buyer": map[string]any{"properties": stamps(map[string]any{
						"buyerId": keyword,
					})},
				})},
				"transports": map[string]any{"type": "nested", "properties": stamps(map[string]any{
					"id":           keyword,
					"carrierId":    keyword,
					"purchaseId":   keyword,
					"status":       keyword,
					"scheduleDate": date,
					"carrier": map[string]any{"properties": stamps(map[string]any{
						"id": keyword,
					})},
				})},
			}),
		},
	}
}

// esSearchBody renders a Query as an Elasticsearch search request body.
func esSearchBody(q Query, expr filter.Expr) map[string]any {
	boolQuery := map[string]any{}
	if _, all := expr.(filter.MatchAll); !all {
		boolQuery["filter"] = []any{esQuery(expr, "")}
	}
	if !q.Text.empty() {
		boolQuery["must"] = []any{esTextQuery(q.Text)}
	}

	body := map[string]any{
		"query":            map[string]any{"bool": boolQuery},
		"from":             max(q.Offset, 0),
		"track_total_hits": true,
	}
	if q.Limit > 0 {
		body["size"] = q.Limit
	}
	if len(q.Fields) > 0 {
		body["_source"] = append([]string{"id"}, q.Fields...)
	}
	if len(q.Sort) > 0 {
		sorts := make([]any, 0, len(q.Sort)+1)
		for _, s := range q.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			sorts = append(sorts, map[string]any{esExactField(s.Field): map[string]any{"order": order}})
		}
		sorts = append(sorts, map[string]any{"id": map[string]any{"order": "asc"}})
		body["sort"] = sorts
	}
	if len(q.Aggregations) > 0 {
		aggs := make(map[string]any, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			aggs[agg.Name] = esAggregation(agg)
		}
		body["aggs"] = aggs
	}
	return body
}

func esTextQuery(t *TextQuery) map[string]any {
	fields := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Weight > 0 && f.Weight != 1 {
			fields = append(fields, f.Name+"^"+formatNumber(f.Weight))
			continue
		}
		fields = append(fields, f.Name)
	}
	match := map[string]any{
		"query":  t.String(),
		"fields": fields,
		"type":   "best_fields",
	}
	if t.Prefix {
		match["type"] = "bool_prefix"
	}
	if t.Fuzzy {
		match["fuzziness"] = "AUTO"
	}
	return map[string]any{"multi_match": match}
}

func esAggregation(agg Aggregation) map[string]any {
	if len(agg.Ranges) > 0 {
		ranges := make([]any, 0, len(agg.Ranges))
		for _, r := range agg.Ranges {
			bucket := map[string]any{"key": r.Key}
			if r.From != nil {
				bucket["from"] = *r.From
			}
			if r.To != nil {
				bucket["to"] = *r.To
			}
			ranges = append(ranges, bucket)
		}
		return map[string]any{"range": map[string]any{"field": agg.Field, "ranges": ranges}}
	}
	terms := map[string]any{"field": esExactField(agg.Field)}
	if agg.Size > 0 {
		terms["size"] = agg.Size
	}
	return map[string]any{"terms": terms}
}

// esQuery renders a filter expression. prefix is the enclosing nested path;
// field names inside a nested clause are relative to it.
func esQuery(e filter.Expr, prefix string) map[string]any {
	switch v := e.(type) {
	case filter.MatchAll:
		return map[string]any{"match_all": map[string]any{}}
	case filter.MatchNone:
		return map[string]any{"match_none": map[string]any{}}
	case filter.Term:
		return esWrap(prefix, v.Field, func(field string) map[string]any {
			return map[string]any{"term": map[string]any{esExactField(field): filter.Format(v.Value)}}
		})
	case filter.In:
		return esWrap(prefix, v.Field, func(field string) map[string]any {
			values := make([]string, len(v.Values))
			for i, value := range v.Values {
				values[i] = filter.Format(value)
			}
			return map[string]any{"terms": map[string]any{esExactField(field): values}}
		})
	case filter.Exists:
		return esWrap(prefix, v.Field, func(field string) map[string]any {
			return map[string]any{"exists": map[string]any{"field": field}}
		})
	case filter.Range:
		return esWrap(prefix, v.Field, func(field string) map[string]any {
			bounds := map[string]any{}
			if v.GTE != nil {
				bounds["gte"] = *v.GTE
			}
			if v.LT != nil {
				bounds["lt"] = *v.LT
			}
			return map[string]any{"range": map[string]any{field: bounds}}
		})
	case filter.And:
		return map[string]any{"bool": map[string]any{"filter": esChildren(v, prefix)}}
	case filter.Or:
		return map[string]any{"bool": map[string]any{"should": esChildren(v, prefix), "minimum_should_match": 1}}
	case filter.Not:
		return map[string]any{"bool": map[string]any{"must_not": []any{esQuery(v.Expr, prefix)}}}
	case filter.Nested:
		path := joinPath(prefix, v.Path)
		return map[string]any{"nested": map[string]any{
			"path":  path,
			"query": esQuery(v.Expr, path),
		}}
	default:
		return map[string]any{"match_none": map[string]any{}}
	}
}

func esChildren(children []filter.Expr, prefix string) []any {
	out := make([]any, 0, len(children))
	for _, child := range children {
		out = append(out, esQuery(child, prefix))
	}
	return out
}

// esWrap qualifies the field with the enclosing path. A dotted field that
// reaches into a nested path from outside any nested clause gets its own
// nested wrapper, since nested objects are invisible to top-level queries.
func esWrap(prefix, field string, leaf func(field string) map[string]any) map[string]any {
	full := joinPath(prefix, field)
	if prefix == "" {
		for _, path := range esNestedPaths {
			if strings.HasPrefix(full, path+".") {
				return map[string]any{"nested": map[string]any{"path": path, "query": leaf(full)}}
			}
		}
	}
	return leaf(full)
}

func esExactField(field string) string {
	if esTextFields[field] {
		return field + ".keyword"
	}
	return field
}

func joinPath(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}
