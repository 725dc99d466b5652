package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/auth"
)

// Context keys for claims stored in gin.Context. Handlers read them
// through the helpers below rather than by name.
const (
	ContextKeyUserID      = "user_id"
	ContextKeyWorkspaceID = "workspace_id"
	ContextKeyEmail       = "email"
)

// AuthMiddleware validates the bearer token and stores its claims on the
// request. Invalid or missing tokens abort with 401 before any handler runs.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		// "Bearer eyJhbG..." -> ["Bearer", "eyJhbG..."]
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyWorkspaceID, claims.WorkspaceID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Next()
	}
}

// ---------------------------------------------------------------
// Claim helpers. A missing or mistyped key yields uuid.Nil, which matches
// no row in any workspace-scoped query.
// ---------------------------------------------------------------

func GetUserID(c *gin.Context) uuid.UUID {
	return getUUID(c, ContextKeyUserID)
}

func GetWorkspaceID(c *gin.Context) uuid.UUID {
	return getUUID(c, ContextKeyWorkspaceID)
}

func GetEmail(c *gin.Context) string {
	val, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	email, ok := val.(string)
	if !ok {
		return ""
	}
	return email
}

func getUUID(c *gin.Context, key string) uuid.UUID {
	val, exists := c.Get(key)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
