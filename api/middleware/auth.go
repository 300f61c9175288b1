package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ornabmomin/poem-api/models"
)

// Auth returns admin-key authentication middleware.
//
// Supports two header styles:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// If keys is empty, the middleware is a no-op (open access).
func Auth(keys []string) gin.HandlerFunc {
	var valid [][]byte
	for _, k := range keys {
		if k != "" {
			valid = append(valid, []byte(k))
		}
	}
	if len(valid) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			abortUnauthorized(c, "missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}
		if !matchesAny(valid, []byte(key)) {
			abortUnauthorized(c, "invalid API key")
			return
		}
		c.Next()
	}
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func matchesAny(valid [][]byte, key []byte) bool {
	ok := 0
	for _, v := range valid {
		ok |= subtle.ConstantTimeCompare(v, key)
	}
	return ok == 1
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		models.NewErrorResponse(models.ErrCodeUnauthorized, msg, http.StatusUnauthorized, c.Request.URL.Path))
}
