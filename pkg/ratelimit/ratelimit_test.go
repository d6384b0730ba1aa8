package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func baseConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:              true,
		WindowMs:             60000,
		AuthenticatedLimit:   1000,
		UnauthenticatedLimit: 100,
		KeyPrefix:            "ratelimit",
	}
}

func TestCheckCountsDownThenTrips(t *testing.T) {
	cfg := baseConfig()
	limiter, _ := newTestLimiter(t, cfg)

	// Fixed instant at the start of a window: no carry from the previous one.
	limiter.now = func() time.Time { return time.UnixMilli(600000) }
	ctx := context.Background()

	wantRemaining := []int64{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		info, err := limiter.Check(ctx, "ip:1.2.3.4", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), info.Limit)
		assert.Equal(t, want, info.Remaining, "request %d", i+1)
		assert.False(t, info.Limited(), "request %d", i+1)
	}

	info, err := limiter.Check(ctx, "ip:1.2.3.4", 5)
	require.NoError(t, err)
	assert.True(t, info.Limited())
	assert.Equal(t, int64(0), info.Remaining)
	assert.Equal(t, int64(60), info.RetryAfter) // full window remains at progress 0
}

func TestSlidingEstimateInterpolatesPreviousWindow(t *testing.T) {
	cfg := baseConfig()
	limiter, mr := newTestLimiter(t, cfg)
	ctx := context.Background()

	// Previous window (window 9 for t=600000) holds 100 hits.
	require.NoError(t, mr.Set("ratelimit:ip:1.2.3.4:9", "100"))

	// Half way through the current window: estimate = 100*(1-0.5) + current.
	limiter.now = func() time.Time { return time.UnixMilli(630000) }

	info, err := limiter.Check(ctx, "ip:1.2.3.4", 60)
	require.NoError(t, err)
	// estimate = 50 + 1 = 51 ≤ 60
	assert.False(t, info.Limited())
	assert.Equal(t, int64(9), info.Remaining)

	info, err = limiter.Check(ctx, "ip:1.2.3.4", 51)
	require.NoError(t, err)
	// estimate = 50 + 2 = 52 > 51
	assert.True(t, info.Limited())
	assert.Equal(t, int64(30), info.RetryAfter) // half the window left
}

func TestEstimateIsMonotonicWithinWindow(t *testing.T) {
	cfg := baseConfig()
	limiter, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	limiter.now = func() time.Time { return time.UnixMilli(600000) }

	var last int64 = -1
	for i := 0; i < 10; i++ {
		info, err := limiter.Check(ctx, "ip:9.9.9.9", 1000)
		require.NoError(t, err)
		used := info.Limit - info.Remaining
		assert.Greater(t, used, last)
		last = used
	}
}

func TestCountersExpire(t *testing.T) {
	cfg := baseConfig()
	limiter, mr := newTestLimiter(t, cfg)

	limiter.now = func() time.Time { return time.UnixMilli(600000) }
	_, err := limiter.Check(context.Background(), "ip:1.2.3.4", 5)
	require.NoError(t, err)

	key := "ratelimit:ip:1.2.3.4:10"
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.Equal(t, 2*time.Minute, ttl) // 2x the window
}

func TestKeyForPrefersUserID(t *testing.T) {
	cfg := baseConfig()
	limiter, _ := newTestLimiter(t, cfg)

	conn := connection.New(connection.TypeWeb, "1.2.3.4", nil, nil)
	key, limit := limiter.KeyFor(conn)
	assert.Equal(t, "ip:1.2.3.4", key)
	assert.Equal(t, int64(100), limit)
}

func TestLimitForPath(t *testing.T) {
	cfg := baseConfig()
	cfg.PathOverrides = map[string]int{"/oauth/register": 10}
	limiter, _ := newTestLimiter(t, cfg)

	assert.Equal(t, int64(10), limiter.LimitForPath("/oauth/register", 100))
	assert.Equal(t, int64(100), limiter.LimitForPath("/api/status", 100))
}

func TestMiddlewareStoresVerdictAndRaises(t *testing.T) {
	cfg := baseConfig()
	cfg.UnauthenticatedLimit = 2
	limiter, _ := newTestLimiter(t, cfg)
	limiter.now = func() time.Time { return time.UnixMilli(600000) }

	mw := limiter.Middleware()
	ctx := context.Background()
	conn := connection.New(connection.TypeWeb, "1.2.3.4", nil, nil)

	for i := 0; i < 2; i++ {
		_, err := mw.RunBefore(ctx, map[string]any{}, conn)
		require.NoError(t, err)
		require.NotNil(t, conn.RateLimitInfo())
	}

	_, err := mw.RunBefore(ctx, map[string]any{}, conn)
	require.Error(t, err)
	assert.Equal(t, errors.KindConnectionRateLimited, errors.AsTyped(err).Kind)
	assert.True(t, conn.RateLimitInfo().Limited())
}

func newHTTPFixture(t *testing.T, limiter *Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(limiter.HTTPMiddleware())
	engine.POST("/oauth/register", func(c *gin.Context) { c.JSON(http.StatusCreated, gin.H{"ok": true}) })
	engine.GET("/oauth/authorize", func(c *gin.Context) { c.String(http.StatusOK, "form") })
	return engine
}

func TestHTTPMiddlewareEnforcesPathOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.PathOverrides = map[string]int{"/oauth/register": 1}
	limiter, _ := newTestLimiter(t, cfg)
	limiter.now = func() time.Time { return time.UnixMilli(600000) }
	engine := newHTTPFixture(t, limiter)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/oauth/register", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/oauth/register", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), string(errors.KindConnectionRateLimited))
}

func TestHTTPMiddlewareIgnoresReads(t *testing.T) {
	cfg := baseConfig()
	cfg.UnauthenticatedLimit = 1
	limiter, _ := newTestLimiter(t, cfg)
	limiter.now = func() time.Time { return time.UnixMilli(600000) }
	engine := newHTTPFixture(t, limiter)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	cfg := baseConfig()
	cfg.Enabled = false
	limiter, _ := newTestLimiter(t, cfg)

	mw := limiter.Middleware()
	conn := connection.New(connection.TypeWeb, "1.2.3.4", nil, nil)
	params := map[string]any{"k": "v"}

	out, err := mw.RunBefore(context.Background(), params, conn)
	require.NoError(t, err)
	assert.Equal(t, params, out)
	assert.Nil(t, conn.RateLimitInfo())
}
