package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"offersearch/api/internal/auth"
	"offersearch/api/internal/rbac"
	"offersearch/api/internal/search"
)

// StatusClientClosedRequest is reported when the caller goes away before the
// search finishes.
const StatusClientClosedRequest = 499

type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerOptions struct {
	CORSOrigin string
	// JWTSecret enables bearer token identity. Without it the caller names
	// itself through userType, accountId and userId request fields.
	JWTSecret []byte
	// Checks are run by /api/ready, keyed by component name.
	Checks map[string]Pinger
}

type HTTPServer struct {
	search *search.Service
	opts   ServerOptions
}

func NewHTTPServer(service *search.Service, opts ServerOptions) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return &HTTPServer{search: service, opts: opts}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)

	r.Post("/api/search", s.handleSearch)
	r.Get("/api/search/autocomplete", s.handleAutocomplete)
	r.Get("/api/offers/{id}", s.handleGetOffer)
	r.Get("/api/entities/{kind}/{id}/offers", s.handleFindByEntity)
	r.Post("/api/admin/reindex", s.handleReindex)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	pingers := map[string]Pinger{"search": s.search}
	for name, check := range s.opts.Checks {
		pingers[name] = check
	}
	for name, check := range pingers {
		if err := check.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// identity holds the caller fields accepted in request bodies and query
// strings when tokens are not configured.
type identity struct {
	UserType  string `json:"userType"`
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		search.Request
		identity
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.caller(r, body.identity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.search.Search(r.Context(), body.Request, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	user, err := s.caller(r, queryIdentity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	maxResults, err := queryInt(q.Get("maxResults"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "maxResults must be an integer", nil)
		return
	}
	res, err := s.search.Autocomplete(r.Context(), search.AutocompleteRequest{Query: q.Get("query"), MaxResults: maxResults}, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	user, err := s.caller(r, queryIdentity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.search.GetOffer(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "document": doc})
}

func (s *HTTPServer) handleFindByEntity(w http.ResponseWriter, r *http.Request) {
	user, err := s.caller(r, queryIdentity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be an integer", nil)
		return
	}
	pageSize, err := queryInt(q.Get("pageSize"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "pageSize must be an integer", nil)
		return
	}
	res, err := s.search.FindByEntity(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "id"), page, pageSize, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleReindex(w http.ResponseWriter, r *http.Request) {
	var body identity
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body == (identity{}) {
		body = queryIdentity(r)
	}
	user, err := s.caller(r, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.search.EnsureIndex(r.Context(), user); err != nil {
		s.fail(w, r, err)
		return
	}
	log.Printf("app: index ensured by %s %s", user.Role, user.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// caller resolves who is asking. With a token secret configured the bearer
// token is authoritative and request fields are ignored.
func (s *HTTPServer) caller(r *http.Request, fallback identity) (rbac.UserContext, error) {
	if len(s.opts.JWTSecret) == 0 {
		return rbac.NewUserContext(fallback.UserType, fallback.AccountID, fallback.UserID), nil
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return rbac.UserContext{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	claims, err := auth.ParseToken(s.opts.JWTSecret, token)
	if err != nil {
		return rbac.UserContext{}, err
	}
	return claims.User(), nil
}

func queryIdentity(r *http.Request) identity {
	q := r.URL.Query()
	return identity{UserType: q.Get("userType"), AccountID: q.Get("accountId"), UserID: q.Get("userId")}
}

func queryInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.opts.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody tolerates an empty body and leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, search.ErrCanceled):
		return StatusClientClosedRequest, "REQUEST_CANCELED", "Request canceled", nil
	case errors.Is(err, search.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil
	case errors.Is(err, search.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, search.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
