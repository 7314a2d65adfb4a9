package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
	limits  []int
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	f.limits = append(f.limits, limit)
	return f.allowed, f.err
}

type reportingLimiter struct {
	fakeLimiter
}

func (r *reportingLimiter) Remaining(context.Context, string, int, time.Duration) (int, error) {
	return 4, nil
}

func serve(mw gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/series/:sid", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/series/s-1", nil)
	req.RemoteAddr = "10.0.0.7:4567"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitAllows(t *testing.T) {
	limiter := &reportingLimiter{fakeLimiter{allowed: true}}
	w := serve(RateLimit(RateLimitConfig{Enabled: true, RequestsPerSecond: 10, Burst: 5}, limiter))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "15", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"ratelimit:10.0.0.7:/v1/series/:sid"}, limiter.keys)
	assert.Equal(t, []int{15}, limiter.limits)
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	w := serve(RateLimit(RateLimitConfig{Enabled: true, RequestsPerSecond: 1}, limiter))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	w := serve(RateLimit(RateLimitConfig{Enabled: true}, limiter))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []int{100}, limiter.limits)
}

func TestRateLimitDisabled(t *testing.T) {
	limiter := &fakeLimiter{}
	w := serve(RateLimit(RateLimitConfig{Enabled: false}, limiter))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, limiter.keys)

	w = serve(RateLimit(RateLimitConfig{Enabled: true}, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
