package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/planfold/planfold/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware(t *testing.T) {
	config := httpx.RateLimitConfig{
		RequestsPerWindow: 3,
		Window:            time.Minute,
		Burst:             3,
	}

	t.Run("allows requests within the burst", func(t *testing.T) {
		handler := httpx.RateLimitMiddleware(config, httpx.ClientIP)(okHandler())

		for i := range 3 {
			rec := doRequest(t, handler, "10.0.0.1:1234")
			require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
		}
	})

	t.Run("rejects requests above the burst", func(t *testing.T) {
		handler := httpx.RateLimitMiddleware(config, httpx.ClientIP)(okHandler())

		for range 3 {
			doRequest(t, handler, "10.0.0.2:1234")
		}
		rec := doRequest(t, handler, "10.0.0.2:1234")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		handler := httpx.RateLimitMiddleware(config, httpx.ClientIP)(okHandler())

		for range 3 {
			doRequest(t, handler, "10.0.0.3:1234")
		}
		require.Equal(t, http.StatusTooManyRequests, doRequest(t, handler, "10.0.0.3:1234").Code)
		require.Equal(t, http.StatusOK, doRequest(t, handler, "10.0.0.4:1234").Code)
	})

	t.Run("empty key allows the request", func(t *testing.T) {
		empty := func(*http.Request) string { return "" }
		handler := httpx.RateLimitMiddleware(config, empty)(okHandler())

		for range 10 {
			require.Equal(t, http.StatusOK, doRequest(t, handler, "10.0.0.5:1234").Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.10:5555", nil, "192.168.1.10"},
		{"remote addr without port", "192.168.1.10", nil, "192.168.1.10"},
		{"x-forwarded-for single", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"x-forwarded-for chain takes first", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, httpx.ClientIP(req))
		})
	}
}
