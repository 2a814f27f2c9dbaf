package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorhub/signaling/services"
)

const (
	userIDKey   = "userID"
	identityKey = "identity"
)

// Auth requires a valid bearer token and stores the caller's identity on the
// gin context.
func Auth(auth services.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := services.ExtractToken(c.Request)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization token"})
			return
		}

		identity, err := auth.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(userIDKey, identity.UserID)
		c.Set(identityKey, identity)
		c.Next()
	}
}

// UserID returns the authenticated user set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
