package search

import (
	"offersearch/api/internal/docstore"
	"offersearch/api/internal/model"
)

const (
	DefaultPageSize        = 20
	MaxPageSize            = 100
	DefaultAutocompleteMax = 10
	MaxAutocomplete        = 50
	// MaxPage bounds page numbers so page*pageSize stays far from overflow.
	MaxPage = 10000
)

// Request describes a search. Page is zero-based.
type Request struct {
	Query               string   `json:"query"`
	EntityKinds         []string `json:"entityTypes,omitempty"`
	Status              string   `json:"status,omitempty"`
	Page                int      `json:"page" validate:"gte=0,lte=10000"`
	PageSize            int      `json:"pageSize" validate:"gte=0"`
	SortField           string   `json:"sortField,omitempty" validate:"omitempty,oneof=createdAt lastModifiedAt mileage vehicleYear"`
	SortOrder           string   `json:"sortOrder,omitempty" validate:"omitempty,oneof=asc desc ASC DESC"`
	IncludeAggregations bool     `json:"includeAggregations"`
}

// Item is one hit: summary fields for list rendering plus the document
// trimmed to what the caller may see.
type Item struct {
	ID         string               `json:"id"`
	Score      float64              `json:"score"`
	OfferID    string               `json:"offerId"`
	VIN        string               `json:"vin,omitempty"`
	Make       string               `json:"make,omitempty"`
	Model      string               `json:"model,omitempty"`
	Year       string               `json:"year,omitempty"`
	Mileage    int                  `json:"mileage"`
	Status     string               `json:"status,omitempty"`
	SellerName string               `json:"sellerName,omitempty"`
	Document   *model.OfferDocument `json:"document"`
}

type ResultSet struct {
	Success       bool                         `json:"success"`
	Total         int64                        `json:"total"`
	Items         []Item                       `json:"items"`
	Aggregations  map[string][]docstore.Bucket `json:"aggregations,omitempty"`
	Detected      map[string]string            `json:"detected,omitempty"`
	ExpandedQuery string                       `json:"expandedQuery,omitempty"`
	Page          int                          `json:"page"`
	PageSize      int                          `json:"pageSize"`
	TotalPages    int                          `json:"totalPages"`
	ElapsedMs     int64                        `json:"elapsedMs"`
}

type AutocompleteRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults" validate:"gte=0"`
}

type Suggestion struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	ID       string `json:"id"`
	Category string `json:"category"`
}

type AutocompleteResult struct {
	Success     bool         `json:"success"`
	Suggestions []Suggestion `json:"suggestions"`
}
