// Copyright 2025 Joseph Cumines
//
// HTTP/SSE transport API key authentication tests

package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	const apiKey = "test-secret-key-12345"

	tests := []struct {
		name       string
		method     string
		path       string
		authHeader string
		wantStatus int
	}{
		{"valid token", http.MethodPost, "/message", "Bearer " + apiKey, http.StatusOK},
		{"wrong token", http.MethodPost, "/message", "Bearer wrong-key", http.StatusUnauthorized},
		{"missing header", http.MethodPost, "/message", "", http.StatusUnauthorized},
		{"basic scheme", http.MethodPost, "/message", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"lowercase scheme", http.MethodPost, "/message", "bearer " + apiKey, http.StatusUnauthorized},
		{"token only", http.MethodPost, "/message", apiKey, http.StatusUnauthorized},
		{"trailing space", http.MethodPost, "/message", "Bearer " + apiKey + " ", http.StatusUnauthorized},
		{"health exempt", http.MethodGet, "/health", "", http.StatusOK},
		{"health exempt with bad token", http.MethodGet, "/health", "Bearer wrong-key", http.StatusOK},
		{"metrics requires auth", http.MethodGet, "/metrics", "", http.StatusUnauthorized},
		{"metrics with token", http.MethodGet, "/metrics", "Bearer " + apiKey, http.StatusOK},
		{"events requires auth", http.MethodGet, "/events", "", http.StatusUnauthorized},
	}

	tr := NewHTTPTransport(&HTTPTransportConfig{APIKey: apiKey, Metrics: NewMetricsRegistry()})
	tr.SetHandler(echoHandler)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.method == http.MethodPost {
				body = strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			tr.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && !strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Bearer") {
				t.Errorf("WWW-Authenticate = %q", w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthMiddleware_NoAuthConfigured(t *testing.T) {
	tr := NewHTTPTransport(&HTTPTransportConfig{})
	tr.SetHandler(echoHandler)

	for _, header := range []string{"", "Bearer anything", "Basic dXNlcjpwYXNz"} {
		req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		tr.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Authorization %q: status = %d, want 200", header, w.Code)
		}
	}
}

func TestAuthMiddleware_PreflightSkipsAuth(t *testing.T) {
	tr := NewHTTPTransport(&HTTPTransportConfig{APIKey: "k"})

	req := httptest.NewRequest(http.MethodOptions, "/message", nil)
	w := httptest.NewRecorder()
	tr.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if allowed := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(allowed, "Authorization") {
		t.Errorf("Access-Control-Allow-Headers = %q", allowed)
	}
}
