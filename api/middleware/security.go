package middleware

import "github.com/gin-gonic/gin"

var securityHeaders = map[string]string{
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "SAMEORIGIN",
	"Referrer-Policy":              "no-referrer",
	"Strict-Transport-Security":    "max-age=31536000; includeSubDomains",
	"X-DNS-Prefetch-Control":       "off",
	"Cross-Origin-Resource-Policy": "same-origin",
	"X-Download-Options":           "noopen",
}

// SecurityHeaders sets conservative response headers on every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range securityHeaders {
			h.Set(k, v)
		}
		c.Next()
	}
}
