package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Caller", Caller(r.Context()))
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("k", "/api/health")(ok)

	tests := []struct {
		name string
		req  func() *http.Request
		want int
	}{
		{"missing", func() *http.Request { return httptest.NewRequest("GET", "/api/policy", nil) }, http.StatusUnauthorized},
		{"wrong", func() *http.Request {
			r := httptest.NewRequest("GET", "/api/policy", nil)
			r.Header.Set("X-API-Key", "nope")
			return r
		}, http.StatusUnauthorized},
		{"bearer", func() *http.Request {
			r := httptest.NewRequest("GET", "/api/policy", nil)
			r.Header.Set("Authorization", "Bearer k")
			return r
		}, http.StatusOK},
		{"exempt", func() *http.Request { return httptest.NewRequest("GET", "/api/health", nil) }, http.StatusOK},
		{"query on upgrade", func() *http.Request {
			r := httptest.NewRequest("GET", "/ws?api_key=k", nil)
			r.Header.Set("Upgrade", "websocket")
			return r
		}, http.StatusOK},
		{"query without upgrade", func() *http.Request { return httptest.NewRequest("GET", "/api/policy?api_key=k", nil) }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serve(h, tt.req()).Code; got != tt.want {
				t.Fatalf("status = %d, want %d", got, tt.want)
			}
		})
	}

	if got := serve(Auth("")(ok), httptest.NewRequest("GET", "/x", nil)).Code; got != http.StatusOK {
		t.Fatalf("disabled auth status = %d", got)
	}
}

func TestAdminSetsOperator(t *testing.T) {
	h := Admin("admin", "0xop")(ok)

	r := httptest.NewRequest("POST", "/api/policy/pause", nil)
	if rec := serve(h, r); rec.Code != http.StatusForbidden {
		t.Fatalf("no key status = %d", rec.Code)
	}

	r = httptest.NewRequest("POST", "/api/policy/pause", nil)
	r.Header.Set("X-Admin-Key", "admin")
	rec := serve(h, r)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Caller") != "0xop" {
		t.Fatalf("status = %d caller = %q", rec.Code, rec.Header().Get("X-Caller"))
	}

	r = httptest.NewRequest("POST", "/api/policy/pause", nil)
	r.Header.Set("X-Admin-Key", "")
	if rec := serve(Admin("", "0xop")(ok), r); rec.Code != http.StatusForbidden {
		t.Fatalf("disabled admin status = %d", rec.Code)
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(ok)

	r := httptest.NewRequest("GET", "/api/status", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec := serve(h, r)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin was allowed")
	}

	r.Header.Set("Origin", "https://DASH.example")
	rec = serve(h, r)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://DASH.example" {
		t.Fatalf("allowed origin headers = %v", rec.Header())
	}
}

func TestLoggingKeepsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	if got := serve(h, r).Header().Get(RequestIDHeader); got != "abc" {
		t.Fatalf("request id = %q", got)
	}
	if got := serve(h, httptest.NewRequest("GET", "/", nil)).Header().Get(RequestIDHeader); len(got) != 36 {
		t.Fatalf("generated request id = %q", got)
	}
}

type brokenLimiter struct{ keys []string }

func (b *brokenLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	b.keys = append(b.keys, key)
	return false, errors.New("redis down")
}

func (b *brokenLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimitFailsOpen(t *testing.T) {
	lim := &brokenLimiter{}
	h := RateLimit(lim, 10, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	if rec := serve(h, r); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(lim.keys) != 1 || lim.keys[0] != "ratelimit:api:10.0.0.1" {
		t.Fatalf("keys = %v", lim.keys)
	}
}
