package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextClientID is the gin context key holding the authenticated client id.
const ContextClientID = "client_id"

// Middleware enforces a valid Bearer token on protected routes.
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "invalid authorization header format",
			})
			return
		}

		clientID, err := jwtManager.ValidateAccessToken(parts[1])
		if err != nil {
			message := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				message = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": message,
			})
			return
		}

		c.Set(ContextClientID, clientID)
		c.Next()
	}
}
