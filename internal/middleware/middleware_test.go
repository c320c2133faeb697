package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func internalRouter(secret string) *gin.Engine {
	r := gin.New()
	r.POST("/internal/token", InternalAuthMiddleware(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestInternalAuthAcceptsValidSecret(t *testing.T) {
	r := internalRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/internal/token", nil)
	req.Header.Set(InternalSecretHeader, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInternalAuthRejectsMissingSecret(t *testing.T) {
	r := internalRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/internal/token", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalAuthRejectsWrongSecret(t *testing.T) {
	r := internalRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/internal/token", nil)
	req.Header.Set(InternalSecretHeader, "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalAuthClosedWhenUnconfigured(t *testing.T) {
	r := internalRouter("")

	req := httptest.NewRequest(http.MethodPost, "/internal/token", nil)
	req.Header.Set(InternalSecretHeader, "anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	mw, err := NewRateLimiter(RateLimitConfig{
		Rate:      "2-M",
		StoreType: RateLimitStoreMemory,
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/ping", mw, func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestRateLimiterRejectsBadRate(t *testing.T) {
	_, err := NewRateLimiter(RateLimitConfig{
		Rate:      "not-a-rate",
		StoreType: RateLimitStoreMemory,
	})
	assert.Error(t, err)
}
