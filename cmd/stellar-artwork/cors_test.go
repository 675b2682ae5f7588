package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", `"abc_full"`)
	w.Write([]byte("ok"))
}

func TestCorsMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllow   string
		wantMethods string
		wantVary    string
	}{
		{
			name:       "wildcard allows any origin",
			origins:    []string{"*"},
			method:     http.MethodGet,
			origin:     "http://ui.local",
			wantStatus: http.StatusOK,
			wantAllow:  "*",
		},
		{
			name:       "empty list behaves as wildcard",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "*",
		},
		{
			name:       "listed origin is echoed",
			origins:    []string{"http://ui.local", "http://volumio.local"},
			method:     http.MethodGet,
			origin:     "http://volumio.local",
			wantStatus: http.StatusOK,
			wantAllow:  "http://volumio.local",
			wantVary:   "Origin",
		},
		{
			name:       "unlisted origin gets no headers",
			origins:    []string{"http://ui.local"},
			method:     http.MethodGet,
			origin:     "http://evil.example",
			wantStatus: http.StatusOK,
			wantVary:   "Origin",
		},
		{
			name:        "preflight answered without calling the handler",
			origins:     []string{"*"},
			method:      http.MethodOptions,
			origin:      "http://ui.local",
			preflight:   true,
			wantStatus:  http.StatusNoContent,
			wantAllow:   "*",
			wantMethods: "GET, POST, OPTIONS",
		},
		{
			name:       "preflight from unlisted origin refused",
			origins:    []string{"http://ui.local"},
			method:     http.MethodOptions,
			origin:     "http://evil.example",
			preflight:  true,
			wantStatus: http.StatusForbidden,
			wantVary:   "Origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := corsMiddleware(tt.origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				okHandler(w, r)
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/artwork/abc", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called == tt.preflight {
				t.Errorf("handler called = %v for preflight = %v", called, tt.preflight)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get("Access-Control-Allow-Methods"); got != tt.wantMethods {
				t.Errorf("Allow-Methods = %q, want %q", got, tt.wantMethods)
			}
			if got := rec.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("Vary = %q, want %q", got, tt.wantVary)
			}
		})
	}
}

func TestCorsMiddleware_HeadersSurviveErrors(t *testing.T) {
	h := corsMiddleware([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q on 404, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "ETag" {
		t.Errorf("Expose-Headers = %q, want ETag", got)
	}
}
