package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"wellness-sessions/internal/bootstrap"
	"wellness-sessions/internal/config"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *bootstrap.App {
	t.Helper()
	cfg := &config.Config{
		App:     config.AppConfig{Name: "test", Env: "test", GinMode: "test"},
		Auth:    config.AuthConfig{JWTSecret: "router-secret", JWTExpireMinute: 10},
		Store:   config.StoreConfig{Driver: config.StoreMemory},
		Listing: config.ListingConfig{DefaultPageSize: 10, MaxPageSize: 100},
	}
	if mutate != nil {
		mutate(cfg)
	}
	app, err := bootstrap.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func register(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rec, env := call(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return data.Token
}

func TestSessionRoutes(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))
	token := register(t, router, "ivan")

	rec, env := call(t, router, http.MethodPost, "/api/sessions/my-sessions/save-draft", token, map[string]any{
		"title":    "Desk stretch",
		"tags":     []string{"Office", "stretch"},
		"duration": 5,
		"category": "yoga",
	})
	if rec.Code != http.StatusOK || !env.Success || env.Message != "Session saved as draft" {
		t.Fatalf("save draft: %d %+v", rec.Code, env)
	}
	var saved struct {
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(env.Data, &saved); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	id, _ := saved.Session["_id"].(string)
	if id == "" || saved.Session["status"] != "draft" || saved.Session["likeCount"] != float64(0) {
		t.Fatalf("session = %v", saved.Session)
	}
	if _, ok := saved.Session["createdAt"]; !ok {
		t.Fatalf("missing createdAt: %v", saved.Session)
	}

	rec, env = call(t, router, http.MethodPost, "/api/sessions/my-sessions/publish", token, map[string]any{
		"_id":   id,
		"title": "Desk stretch",
	})
	if rec.Code != http.StatusOK || env.Message != "Session published successfully" {
		t.Fatalf("publish: %d %+v", rec.Code, env)
	}

	rec, env = call(t, router, http.MethodGet, "/api/sessions?page=1&limit=5&search=desk", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var page struct {
		Sessions []struct {
			ID     string `json:"_id"`
			Author struct {
				Username string `json:"username"`
			} `json:"author"`
		} `json:"sessions"`
		Pagination struct {
			CurrentPage   int `json:"currentPage"`
			TotalPages    int `json:"totalPages"`
			TotalSessions int `json:"totalSessions"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Sessions) != 1 || page.Sessions[0].ID != id || page.Sessions[0].Author.Username != "ivan" {
		t.Fatalf("page = %+v", page)
	}
	if page.Pagination.CurrentPage != 1 || page.Pagination.TotalPages != 1 || page.Pagination.TotalSessions != 1 {
		t.Fatalf("pagination = %+v", page.Pagination)
	}

	rec, _ = call(t, router, http.MethodGet, "/api/sessions/my-sessions/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}

	rec, env = call(t, router, http.MethodDelete, "/api/sessions/my-sessions/"+id, token, nil)
	if rec.Code != http.StatusOK || env.Message != "Session deleted successfully" {
		t.Fatalf("delete: %d %+v", rec.Code, env)
	}
	rec, env = call(t, router, http.MethodDelete, "/api/sessions/my-sessions/"+id, token, nil)
	if rec.Code != http.StatusNotFound || env.Success {
		t.Fatalf("second delete: %d %+v", rec.Code, env)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))
	token := register(t, router, "judy")
	other := register(t, router, "kim")

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		body     any
		wantCode int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/sessions/my-sessions", wantCode: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, path: "/api/sessions/my-sessions", token: "nope", wantCode: http.StatusUnauthorized},
		{name: "missing title", method: http.MethodPost, path: "/api/sessions/my-sessions/save-draft", token: token, body: map[string]any{"duration": 3}, wantCode: http.StatusBadRequest},
		{name: "unknown category", method: http.MethodPost, path: "/api/sessions/my-sessions/save-draft", token: token, body: map[string]any{"title": "x", "category": "cardio"}, wantCode: http.StatusBadRequest},
		{name: "update unknown id", method: http.MethodPost, path: "/api/sessions/my-sessions/publish", token: other, body: map[string]any{"_id": "missing", "title": "x"}, wantCode: http.StatusNotFound},
		{name: "bad status filter", method: http.MethodGet, path: "/api/sessions/my-sessions?status=archived", token: token, wantCode: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/api/nothing", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := call(t, router, tt.method, tt.path, tt.token, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if env.Success || env.Message == "" {
				t.Fatalf("envelope = %+v", env)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "wellness_http_requests_total") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestHandlerRateLimitAndCORS(t *testing.T) {
	h := NewHandler(newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerMinute = 2
		cfg.CORS.AllowedOrigins = []string{"https://app.example"}
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", last)
	}
}
