package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPrincipalAuth(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := PrincipalAuth(nil)(next)

	t.Run("passes valid principal through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/credentials", nil)
		req.Header.Set(PrincipalHeader, "team-payments")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if seen != "team-payments" {
			t.Fatalf("expected principal in context, got %q", seen)
		}
	})

	t.Run("rejects missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/credentials", nil)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects malformed principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/credentials", nil)
		req.Header.Set(PrincipalHeader, "bad\x00principal")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestPrincipalAuthFloodBlocking(t *testing.T) {
	limiter := NewAuthAttemptLimiter(2, time.Minute, time.Minute)
	protected := PrincipalAuth(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/credentials", nil)
		req.RemoteAddr = "198.51.100.7:4444"
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusUnauthorized {
		t.Fatalf("first failure: expected 401, got %d", code)
	}
	if code := send(); code != http.StatusUnauthorized {
		t.Fatalf("second failure: expected 401, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected block after repeated failures, got %d", code)
	}
}
