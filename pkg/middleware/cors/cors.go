package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	maxAge       = "600"
)

// New builds a CORS middleware for the given origin allowlist. An empty list
// allows every origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := func(string) bool { return true }
	if len(allowedOrigins) > 0 {
		set := make(map[string]struct{}, len(allowedOrigins))
		for _, origin := range allowedOrigins {
			set[strings.TrimRight(origin, "/")] = struct{}{}
		}
		allowed = func(origin string) bool {
			_, ok := set[strings.TrimRight(origin, "/")]
			return ok
		}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && allowed(origin):
			h.Set("Access-Control-Allow-Origin", origin)
		case origin == "" && len(allowedOrigins) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		}

		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Max-Age", maxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
