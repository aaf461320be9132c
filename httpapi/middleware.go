package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"travelmatch/identity"
)

const (
	ctxActorID = "actor_id"
	ctxRole    = "actor_role"
)

// authRequired resolves the bearer token to an actor id and role.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, role, err := s.identity.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxActorID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

// adminOnly gates dispute administration.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorRole(c) != identity.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(ctxActorID)
}

func actorRole(c *gin.Context) identity.Role {
	if v, ok := c.Get(ctxRole); ok {
		if role, ok := v.(identity.Role); ok {
			return role
		}
	}
	return ""
}

func isAdmin(c *gin.Context) bool {
	return actorRole(c) == identity.RoleAdmin
}
