package relay

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginFilter guards the browser-facing surface. Requests from an origin
// outside the allowed set are rejected before they reach the websocket
// upgrade or the session endpoints; requests without an Origin header (the
// native host and viewer binaries) pass through, since the host token gates
// broadcasting separately.
func OriginFilter(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Sec-WebSocket-Origin")
		}
		if origin == "" {
			c.Next()
			return
		}

		if _, ok := allowed[origin]; !ok && !wildcard {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "origin not allowed",
			})
			return
		}

		// The relay only serves GET (health, websocket) and POST (session
		// start/end), so the CORS grant is equally narrow.
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
