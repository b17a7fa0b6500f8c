package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestClientIPBehindRealIP(t *testing.T) {
	tests := []struct {
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"", "198.51.100.10:1234", "198.51.100.10"},
		{"203.0.113.1", "198.51.100.10:1234", "203.0.113.1"},
		{"", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::2"},
		{"", "203.0.113.7", "203.0.113.7"},
	}
	for _, tc := range tests {
		var got string
		h := chimw.RealIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got = clientIP(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tc.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tc.forwarded, tc.remoteAddr, got, tc.want)
		}
	}
}

func TestFixedWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixedWindow(2, time.Minute)

	for i := 0; i < 2; i++ {
		if ok, _ := f.allow("a", start); !ok {
			t.Fatalf("hit %d rejected", i+1)
		}
	}
	ok, retry := f.allow("a", start.Add(10*time.Second))
	if ok {
		t.Fatal("third hit allowed")
	}
	if retry != 50*time.Second {
		t.Fatalf("retry = %s, want 50s", retry)
	}
	if ok, _ := f.allow("b", start); !ok {
		t.Fatal("other key limited")
	}
	if ok, _ := f.allow("a", start.Add(61*time.Second)); !ok {
		t.Fatal("new window still limited")
	}
}

func TestRateLimitKeysByUser(t *testing.T) {
	h := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve("alice"); rec.Code != http.StatusNoContent {
		t.Fatalf("first alice request = %d", rec.Code)
	}
	if rec := serve("bob"); rec.Code != http.StatusNoContent {
		t.Fatalf("bob shares alice's window: %d", rec.Code)
	}
	rec := serve("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second alice request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}
