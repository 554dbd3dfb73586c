package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// adminAuthMiddleware requires the X-Admin-Secret header to match the
// configured admin secret. If no secret is configured the gate is left
// open; config.Validate logs a warning at startup for that case only in
// production.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin access required",
			})
			return
		}

		c.Next()
	}
}
