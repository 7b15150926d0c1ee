package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2})
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	require.Len(t, rl.visitors, 2)

	now = now.Add(rl.idleTTL + time.Second)
	rl.Allow("c")
	require.Len(t, rl.visitors, 1)
	require.Contains(t, rl.visitors, "c")
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	require.Equal(t, "10.0.0.7", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientID(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", clientID(req))

	ctx := context.WithValue(req.Context(), principalKey, Principal{Address: liquidator})
	require.Equal(t, liquidator.String(), clientID(req.WithContext(ctx)))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
