package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mock"
)

func testServer(t *testing.T) (*Server, *mock.MockFaceStore) {
	t.Helper()
	store := mock.NewMockFaceStore(2)
	if _, err := store.UpsertSubject(context.Background(), "alice", []database.StoredFace{{Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := &config.Config{Web: config.WebConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: []string{"https://app.example.com"}}}
	return NewServer(cfg, Dependencies{Store: store}, nil), store
}

func TestRoutes(t *testing.T) {
	s, _ := testServer(t)

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/api/v1/subjects", http.StatusOK, `"subject_id":"alice"`},
		{http.MethodGet, "/api/v1/subjects/alice", http.StatusOK, `"embeddings":1`},
		{http.MethodGet, "/api/v1/subjects/nobody", http.StatusNotFound, `"not_found"`},
		{http.MethodGet, "/api/v1/stats", http.StatusOK, `"backend":"mock"`},
		{http.MethodPost, "/api/v1/index/rebuild", http.StatusOK, `"success":true`},
		{http.MethodGet, "/metrics", http.StatusOK, "face_registry_http_requests_total"},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("expected body to contain %q, got %s", tt.body, rec.Body.String())
			}
		})
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/recognize", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("missing allow-origin header: %v", rec.Header())
	}
}
