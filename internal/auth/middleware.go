package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinPrincipalKey is where the middleware stores the caller's principal.
const GinPrincipalKey = "principal"

// Middleware authenticates every request with an API key and records the
// resolved principal on the gin context.
func Middleware(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := BearerSecret(c.GetHeader("Authorization"), c.GetHeader("X-API-Key"))
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_credentials",
				"message": "Provide an API key via Authorization: Bearer or X-API-Key",
			})
			return
		}

		key, err := manager.Resolve(secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "API key is unknown or revoked",
			})
			return
		}

		c.Set(GinPrincipalKey, key.Principal)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), key.Principal))
		c.Next()
	}
}

// Caller returns the authenticated principal for a request, or empty when
// the route skipped authentication.
func Caller(c *gin.Context) string {
	return c.GetString(GinPrincipalKey)
}
