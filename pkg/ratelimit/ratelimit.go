// Package ratelimit implements the cluster-coherent sliding-window rate
// limiter. Two adjacent per-window Redis counters are interpolated by
// progress through the current window, so the estimate degrades smoothly
// instead of resetting at window boundaries.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

// MiddlewareName is how actions reference the limiter middleware.
const MiddlewareName = "rateLimit"

// Limiter checks request rates against Redis counters.
type Limiter struct {
	redis *redis.Client
	cfg   config.RateLimitConfig

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter.
func New(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{redis: client, cfg: cfg, now: time.Now}
}

// KeyFor derives the limiter key and limit for a connection: user:{id} and
// the authenticated limit when the session carries a userId, otherwise
// ip:{identifier} and the unauthenticated limit.
func (l *Limiter) KeyFor(conn *connection.Connection) (string, int64) {
	if sess := conn.Session(); sess != nil {
		if userID, ok := sess.Data["userId"]; ok && userID != nil {
			return fmt.Sprintf("user:%v", userID), l.cfg.AuthenticatedLimit
		}
	}
	return "ip:" + conn.Identifier, l.cfg.UnauthenticatedLimit
}

// Check increments the current window's counter for key and computes the
// sliding estimate against limit. The returned info always carries the
// limit and reset time; RetryAfter is set only when the estimate exceeds
// the limit.
func (l *Limiter) Check(ctx context.Context, key string, limit int64) (*connection.RateLimitInfo, error) {
	now := l.now().UnixMilli()
	windowMs := l.cfg.WindowMs
	window := now / windowMs

	currentKey := fmt.Sprintf("%s:%s:%d", l.cfg.KeyPrefix, key, window)
	previousKey := fmt.Sprintf("%s:%s:%d", l.cfg.KeyPrefix, key, window-1)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, currentKey)
	pipe.PExpire(ctx, currentKey, time.Duration(2*windowMs)*time.Millisecond)
	prevGet := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	current := incr.Val()
	previous, _ := prevGet.Int64() // missing previous window reads as 0

	elapsed := now % windowMs
	progress := float64(elapsed) / float64(windowMs)
	estimate := int64(float64(previous)*(1-progress)) + current

	info := &connection.RateLimitInfo{
		Limit:   limit,
		ResetAt: ceilDiv((window+1)*windowMs, 1000),
	}

	if estimate > limit {
		info.Remaining = 0
		info.RetryAfter = ceilDiv(windowMs-elapsed, 1000)
		return info, nil
	}

	info.Remaining = limit - estimate
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return info, nil
}

// LimitForPath returns the path-specific override limit, if one is
// configured (the OAuth registration endpoints use lower limits).
func (l *Limiter) LimitForPath(path string, fallback int64) int64 {
	if override, ok := l.cfg.PathOverrides[path]; ok {
		return int64(override)
	}
	return fallback
}

// Middleware exposes the limiter as a named action middleware: the verdict
// is stored on the connection (the HTTP layer emits the X-RateLimit-*
// headers from it) and a limited request raises CONNECTION_RATE_LIMITED.
func (l *Limiter) Middleware() actions.Middleware {
	return actions.MiddlewareFuncs{
		MiddlewareName: MiddlewareName,
		Before: func(ctx context.Context, params map[string]any, conn *connection.Connection) (map[string]any, error) {
			if !l.cfg.Enabled {
				return params, nil
			}
			key, limit := l.KeyFor(conn)
			info, err := l.Check(ctx, key, limit)
			if err != nil {
				return nil, errors.Wrap(err, errors.KindConnectionServerError)
			}
			conn.SetRateLimitInfo(info)
			if info.Limited() {
				return nil, errors.Newf(errors.KindConnectionRateLimited,
					"rate limit exceeded, retry in %ds", info.RetryAfter)
			}
			return params, nil
		},
	}
}

// HTTPMiddleware gates endpoints mounted outside the action pipeline (the
// OAuth paths). Keys are per client IP, per-path overrides apply, and only
// POST is gated: the mutable endpoints are all POSTs.
func (l *Limiter) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.cfg.Enabled || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		limit := l.LimitForPath(c.Request.URL.Path, l.cfg.UnauthenticatedLimit)
		info, err := l.Check(c.Request.Context(), "ip:"+c.ClientIP(), limit)
		if err != nil {
			// Fail open: a limiter error must not block the endpoint.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(info.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(info.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt, 10))
		if info.Limited() {
			c.Header("Retry-After", strconv.FormatInt(info.RetryAfter, 10))
			typed := errors.Newf(errors.KindConnectionRateLimited,
				"rate limit exceeded, retry in %ds", info.RetryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": typed})
			return
		}
		c.Next()
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
