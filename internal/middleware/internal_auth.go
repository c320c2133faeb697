package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// InternalSecretHeader carries the shared secret for service-to-service
// calls from other CRM components.
const InternalSecretHeader = "X-Internal-Secret"

// InternalAuthMiddleware guards internal-only routes with a shared secret.
// An empty configured secret closes the routes entirely; the token surface
// must never be reachable by accident.
func InternalAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Internal API is not configured",
			})
			return
		}

		provided := c.GetHeader(InternalSecretHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Internal secret required",
			})
			return
		}

		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid internal secret",
			})
			return
		}

		c.Next()
	}
}
