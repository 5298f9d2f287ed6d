package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://localhost/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected DENY frame header, got %q", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); got == "" {
		t.Fatal("expected CSP header to be set")
	}
}

func TestBrowserOriginProtectionMiddleware(t *testing.T) {
	h := browserOriginProtectionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("allows localhost origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tools", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})

	t.Run("allows requests without origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tools", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})

	t.Run("blocks non-local origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tools", nil)
		req.Header.Set("Origin", "https://evil.example")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected %d, got %d", http.StatusForbidden, rr.Code)
		}
	})

	t.Run("blocks cross-site fetch hint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tools", nil)
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected %d, got %d", http.StatusForbidden, rr.Code)
		}
	})
}

func TestRequireJSONContentTypeMiddleware(t *testing.T) {
	h := requireJSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("rejects non-json content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "http://localhost/api/tools/fs/read", strings.NewReader(`{"path":"x"}`))
		req.Header.Set("Content-Type", "text/plain")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("expected %d, got %d", http.StatusUnsupportedMediaType, rr.Code)
		}
	})

	t.Run("allows json content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "http://localhost/api/tools/fs/read", strings.NewReader(`{"path":"x"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})

	t.Run("allows empty post body without content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "http://localhost/api/secrets/reload", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})

	t.Run("ignores get requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/audit", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})
}

func TestCORSMiddleware(t *testing.T) {
	h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("local origin gets cors headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/tools", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Fatalf("unexpected allow-origin header: %q", got)
		}
	})

	t.Run("local preflight succeeds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/tools", nil)
		req.Header.Set("Origin", "http://127.0.0.1:8090")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})

	t.Run("blocks non-local preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/tools", nil)
		req.Header.Set("Origin", "https://evil.example")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected %d, got %d", http.StatusForbidden, rr.Code)
		}
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://localhost/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	header := rr.Header().Get("X-Request-ID")
	if header == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
	if seen != header {
		t.Fatalf("context id %q does not match header %q", seen, header)
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}

	t.Run("disabled without configured password", func(t *testing.T) {
		h := requireAdmin("", ok)
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/system", nil)
		req.Header.Set("X-Admin-Key", "anything")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rr.Code)
		}
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		h := requireAdmin("hunter2", ok)
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/system", nil)
		req.Header.Set("X-Admin-Key", "hunter3")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rr.Code)
		}
		env := decodeEnvelope(t, rr)
		if env.ErrorType != "security" {
			t.Fatalf("error_type = %q, want security", env.ErrorType)
		}
	})

	t.Run("accepts correct key", func(t *testing.T) {
		h := requireAdmin("hunter2", ok)
		req := httptest.NewRequest(http.MethodGet, "http://localhost/api/system", nil)
		req.Header.Set("X-Admin-Key", "hunter2")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected %d, got %d", http.StatusNoContent, rr.Code)
		}
	})
}
