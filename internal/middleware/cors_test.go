package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS([]string{"https://app.example.com"})(next)

	cases := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
		wantExpose string
		wantMaxAge string
	}{
		{"allowed origin", http.MethodGet, "https://app.example.com", false, http.StatusTeapot, "https://app.example.com", corsExposeHeaders, ""},
		{"foreign origin", http.MethodGet, "https://evil.example.com", false, http.StatusTeapot, "", "", ""},
		{"preflight", http.MethodOptions, "https://app.example.com", true, http.StatusNoContent, "https://app.example.com", corsExposeHeaders, "600"},
		{"foreign preflight", http.MethodOptions, "https://evil.example.com", true, http.StatusForbidden, "", "", ""},
		{"plain options", http.MethodOptions, "", false, http.StatusTeapot, "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/v1/batches", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("allow origin = %q, want %q", got, tc.wantAllow)
			}
			if got := rr.Header().Get("Access-Control-Expose-Headers"); got != tc.wantExpose {
				t.Fatalf("expose headers = %q, want %q", got, tc.wantExpose)
			}
			if got := rr.Header().Get("Access-Control-Max-Age"); got != tc.wantMaxAge {
				t.Fatalf("max age = %q, want %q", got, tc.wantMaxAge)
			}
		})
	}
}

func TestCORSExposesRetryAfterOnThrottledResponses(t *testing.T) {
	limited := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h := CORS([]string{"https://app.example.com"})(limited)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.RemoteAddr = "198.51.100.4:5000"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("Access-Control-Expose-Headers") != corsExposeHeaders {
		t.Fatalf("throttled response headers %v", last.Header())
	}
}
