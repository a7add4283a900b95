package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	h := Middleware("s3cret")(okHandler())

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"valid token", http.MethodGet, "/v1/objects/audio/u1/ab.mp3", "Bearer s3cret", http.StatusOK},
		{"scheme is case-insensitive", http.MethodPost, "/v1/keys", "bearer s3cret", http.StatusOK},
		{"missing header", http.MethodGet, "/v1/objects/audio/u1/ab.mp3", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/v1/objects/audio/u1/ab.mp3", "Bearer nope", http.StatusUnauthorized},
		{"basic auth", http.MethodGet, "/v1/keys", "Basic czNjcmV0", http.StatusUnauthorized},
		{"empty bearer", http.MethodGet, "/v1/keys", "Bearer ", http.StatusUnauthorized},
		{"health exempt", http.MethodGet, "/health", "", http.StatusOK},
		{"readyz exempt", http.MethodGet, "/readyz", "", http.StatusOK},
		{"metrics exempt", http.MethodGet, "/metrics", "", http.StatusOK},
		{"docs assets exempt", http.MethodGet, "/docs/index.js", "", http.StatusOK},
		{"preflight exempt", http.MethodOptions, "/v1/objects/audio/u1/ab.mp3", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if !strings.Contains(rec.Body.String(), `"code":"Unauthorized"`) {
					t.Errorf("body = %s", rec.Body)
				}
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate")
				}
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware("")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/objects/audio/u1/ab.mp3", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with no token configured", rec.Code)
	}
}
