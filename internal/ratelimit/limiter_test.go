package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewDisabled(t *testing.T) {
	l := New(Config{})
	if l != nil {
		t.Fatalf("expected nil limiter when rate is zero")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("any") {
			t.Fatalf("nil limiter must allow every request")
		}
	}
}

func TestAllowPerKey(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("third request should be denied")
	}
	if !l.Allow("b") {
		t.Fatalf("other key must have its own bucket")
	}
}

func TestWrap(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.001, Burst: 1, KeyHeader: "X-Session-ID"})
	calls := 0
	h := l.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name    string
		session string
		status  int
	}{
		{"first", "s1", http.StatusOK},
		{"throttled", "s1", http.StatusTooManyRequests},
		{"other session", "s2", http.StatusOK},
		{"no header", "", http.StatusOK},
		{"same ip", "", http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/openai_stream", nil)
		if tc.session != "" {
			req.Header.Set("X-Session-ID", tc.session)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
		if tc.status == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatalf("%s: missing Retry-After", tc.name)
		}
	}
	if calls != 3 {
		t.Fatalf("handler calls = %d, want 3", calls)
	}
}
