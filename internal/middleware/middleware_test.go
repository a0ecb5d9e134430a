package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func do(r http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestInternalAuthMiddleware(t *testing.T) {
	r := newRouter(InternalAuthMiddleware("secret"))

	assert.Equal(t, http.StatusOK, do(r, InternalAPIKeyHeader, "secret"))
	assert.Equal(t, http.StatusUnauthorized, do(r, InternalAPIKeyHeader, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "", ""))

	misconfigured := newRouter(InternalAuthMiddleware(""))
	assert.Equal(t, http.StatusInternalServerError, do(misconfigured, InternalAPIKeyHeader, ""))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	r := newRouter(RateLimitMiddleware(limiter))

	assert.Equal(t, http.StatusOK, do(r, "", ""))
	assert.Equal(t, http.StatusOK, do(r, "", ""))
	assert.Equal(t, http.StatusTooManyRequests, do(r, "", ""))
	assert.Equal(t, 1, limiter.Len())
}

func TestServiceRateLimitMiddleware(t *testing.T) {
	r := newRouter(ServiceRateLimitMiddleware(0.001, 1))

	assert.Equal(t, http.StatusOK, do(r, "", ""))
	assert.Equal(t, http.StatusTooManyRequests, do(r, "", ""))
}

func TestCleanupOldLimiters(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	limiter.now = func() time.Time { return now }

	limiter.GetLimiter("10.0.0.1")
	now = now.Add(30 * time.Second)
	limiter.GetLimiter("10.0.0.2")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, limiter.CleanupOldLimiters())
	assert.Equal(t, 1, limiter.Len())
}
