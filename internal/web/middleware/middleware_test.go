package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		header     string
		wantStatus int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong key", "s3cret", "guess", http.StatusUnauthorized},
		{"correct key", "s3cret", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/subjects", nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			RequireAPIKey(tt.key)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSOptions{
		Origins:        []string{"https://gate.example.edu", "https://admin.example.edu"},
		AllowLocalhost: true,
	})(okHandler)
	strict := CORS(CORSOptions{Origins: []string{"https://gate.example.edu"}})(okHandler)

	tests := []struct {
		name        string
		handler     http.Handler
		origin      string
		wantAllowed bool
	}{
		{"listed origin", handler, "https://gate.example.edu", true},
		{"localhost port", handler, "http://localhost:5173", true},
		{"loopback ip", handler, "http://127.0.0.1:8080", true},
		{"localhost lookalike", handler, "http://localhost.evil.example.com", false},
		{"unlisted origin", handler, "https://evil.example.com", false},
		{"no origin", handler, "", false},
		{"localhost disabled", strict, "http://localhost:5173", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			got := rec.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", got, tt.wantAllowed)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	reached := false
	handler := CORS(CORSOptions{AllowLocalhost: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/recognize/entry", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if reached {
		t.Error("preflight must not reach the handler")
	}
	if h := rec.Header().Get("Access-Control-Allow-Headers"); h == "" || !strings.Contains(h, APIKeyHeader) {
		t.Errorf("allowed headers %q should include %s", h, APIKeyHeader)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders()(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
}

