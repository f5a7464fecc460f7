package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// authMiddleware checks the bearer token against the configured bcrypt
// hash. A missing hash disables auth entirely; that branch is handled in
// setupRoutes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	hash := []byte(s.config.APITokenHash)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			errorResponse(c, http.StatusUnauthorized, "missing bearer token")
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			errorResponse(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}
