package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware rejects requests without a valid owner bearer token and
// stores the owner id under ContextUserKey.
func (s *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := s.GetUserIDFromAuthHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "detail": "Owner bearer token required"})
			return
		}
		c.Set(ContextUserKey, userId)
		c.Next()
	}
}
