package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"offersearch/api/internal/auth"
	"offersearch/api/internal/docstore"
	"offersearch/api/internal/model"
	"offersearch/api/internal/search"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type canceledStore struct {
	docstore.Store
}

func (canceledStore) Query(context.Context, docstore.Query) (docstore.Result, error) {
	return docstore.Result{}, context.Canceled
}

func (canceledStore) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T, opts ServerOptions) http.Handler {
	t.Helper()
	store := docstore.NewMemory()
	for _, offer := range []model.Offer{
		{OfferID: "O1", SellerID: "S1", VehicleYear: "2020", VehicleMake: "Toyota", VehicleModel: "Camry", CreatedAt: time.Unix(100, 0).UTC()},
		{OfferID: "O2", SellerID: "S2", VehicleYear: "2019", VehicleMake: "Honda", VehicleModel: "Civic", CreatedAt: time.Unix(200, 0).UTC()},
	} {
		if err := store.Upsert(context.Background(), model.NewDocument(offer.OfferID.String(), offer)); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	return NewHTTPServer(search.NewService(store), opts).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, out
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, ServerOptions{})
	rr, body := do(t, h, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", rr.Code, body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		ping     error
		wantCode int
		wantOK   bool
	}{
		{"all ok", nil, http.StatusOK, true},
		{"provider down", errors.New("connection refused"), http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, ServerOptions{Checks: map[string]Pinger{
				"entitydata": pingFunc(func(context.Context) error { return tt.ping }),
			}})
			rr, body := do(t, h, http.MethodGet, "/api/ready", "", nil)
			if rr.Code != tt.wantCode || body["ok"] != tt.wantOK {
				t.Fatalf("ready = %d %v", rr.Code, body)
			}
			checks := body["checks"].(map[string]any)
			if _, ok := checks["search"]; !ok {
				t.Fatalf("search check missing: %v", checks)
			}
		})
	}
}

func TestSearchUsesRequestIdentity(t *testing.T) {
	h := newTestServer(t, ServerOptions{})

	rr, body := do(t, h, http.MethodPost, "/api/search", `{"query":"","userType":"seller","accountId":"S1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search = %d %v", rr.Code, body)
	}
	if body["total"] != float64(1) || body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	item := body["items"].([]any)[0].(map[string]any)
	if item["id"] != "O1" {
		t.Fatalf("item = %v", item)
	}

	_, body = do(t, h, http.MethodPost, "/api/search", `{"userType":"seller","accountId":"S3"}`, nil)
	if body["total"] != float64(0) {
		t.Fatalf("foreign seller total = %v", body["total"])
	}
}

func TestSearchErrors(t *testing.T) {
	h := newTestServer(t, ServerOptions{})
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"invalid json", `{`, http.StatusBadRequest, "INVALID_BODY"},
		{"negative page", `{"page":-1,"userType":"agent","accountId":"A"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad sort", `{"sortField":"price","userType":"agent","accountId":"A"}`, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := do(t, h, http.MethodPost, "/api/search", tt.body, nil)
			if rr.Code != tt.wantCode || body["code"] != tt.wantErr || body["success"] != false {
				t.Fatalf("got %d %v", rr.Code, body)
			}
		})
	}
}

func TestCanceledSearchIsNotServerError(t *testing.T) {
	h := NewHTTPServer(search.NewService(canceledStore{}), ServerOptions{}).Handler()
	rr, body := do(t, h, http.MethodPost, "/api/search", `{"userType":"agent","accountId":"A"}`, nil)
	if rr.Code != StatusClientClosedRequest || body["code"] != "REQUEST_CANCELED" {
		t.Fatalf("got %d %v", rr.Code, body)
	}
}

func TestTokenIdentity(t *testing.T) {
	secret := []byte("secret")
	h := newTestServer(t, ServerOptions{JWTSecret: secret})

	rr, _ := do(t, h, http.MethodPost, "/api/search", `{"userType":"agent","accountId":"A"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d", rr.Code)
	}

	token, err := auth.IssueToken(secret, auth.Claims{
		Role:      "seller",
		AccountID: "S2",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-2",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + token}}

	// body identity is ignored once tokens are enabled
	rr, body := do(t, h, http.MethodPost, "/api/search", `{"userType":"agent","accountId":"A"}`, header)
	if rr.Code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("token search = %d %v", rr.Code, body)
	}

	rr, _ = do(t, h, http.MethodGet, "/api/offers/O2", "", http.Header{"Authorization": {"Bearer nope"}})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rr.Code)
	}
}

func TestGetOfferEndpoint(t *testing.T) {
	h := newTestServer(t, ServerOptions{})

	rr, body := do(t, h, http.MethodGet, "/api/offers/O1?userType=seller&accountId=S1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("own offer = %d %v", rr.Code, body)
	}
	if doc := body["document"].(map[string]any); doc["offerId"] != "O1" {
		t.Fatalf("document = %v", doc)
	}

	rr, body = do(t, h, http.MethodGet, "/api/offers/O1?userType=seller&accountId=S2", "", nil)
	if rr.Code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("foreign offer = %d %v", rr.Code, body)
	}
}

func TestFindByEntityEndpoint(t *testing.T) {
	h := newTestServer(t, ServerOptions{})

	rr, body := do(t, h, http.MethodGet, "/api/entities/seller/S2/offers?userType=agent&accountId=A&pageSize=5", "", nil)
	if rr.Code != http.StatusOK || body["total"] != float64(1) || body["pageSize"] != float64(5) {
		t.Fatalf("find = %d %v", rr.Code, body)
	}

	rr, _ = do(t, h, http.MethodGet, "/api/entities/invoice/X/offers?userType=agent&accountId=A", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind = %d", rr.Code)
	}

	rr, _ = do(t, h, http.MethodGet, "/api/entities/seller/S2/offers?page=two", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad page = %d", rr.Code)
	}
}

func TestAutocompleteEndpoint(t *testing.T) {
	h := newTestServer(t, ServerOptions{})
	rr, body := do(t, h, http.MethodGet, "/api/search/autocomplete?query=hon&userType=agent&accountId=A", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("autocomplete = %d %v", rr.Code, body)
	}
	suggestions := body["suggestions"].([]any)
	if len(suggestions) != 1 || suggestions[0].(map[string]any)["label"] != "2019 Honda Civic" {
		t.Fatalf("suggestions = %v", suggestions)
	}
}

func TestReindexRequiresAgent(t *testing.T) {
	h := newTestServer(t, ServerOptions{})

	rr, _ := do(t, h, http.MethodPost, "/api/admin/reindex", `{"userType":"seller","accountId":"S1"}`, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("seller reindex = %d", rr.Code)
	}
	rr, body := do(t, h, http.MethodPost, "/api/admin/reindex?userType=agent&accountId=A", "", nil)
	if rr.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("agent reindex = %d %v", rr.Code, body)
	}
}

func TestPreflightAndUnknownRoutes(t *testing.T) {
	h := newTestServer(t, ServerOptions{CORSOrigin: "https://app.example"})

	rr, _ := do(t, h, http.MethodOptions, "/api/search", "", nil)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight = %d %v", rr.Code, rr.Header())
	}
	rr, body := do(t, h, http.MethodGet, "/api/nope", "", nil)
	if rr.Code != http.StatusNotFound || body["success"] != false {
		t.Fatalf("unknown = %d %v", rr.Code, body)
	}
}
