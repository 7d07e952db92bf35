package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the caller's Claims.
const ClaimsKey = "claims"

// RequireRole enforces a bearer access token carrying one of roles.
func RequireRole(issuer Issuer, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		claims, err := issuer.ParseAccess(strings.TrimSpace(authz[len("bearer "):]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		if !hasRole(claims.Role, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "insufficient role"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// OwnRecordOnly stops a student token from reaching another student's
// records. param names the route parameter holding the roll number. It must
// run after RequireRole; other roles pass through.
func OwnRecordOnly(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.Get(ClaimsKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		cl := claims.(Claims)
		if cl.Role == RoleStudent && cl.Subject != strings.TrimSpace(c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "students may only view their own records"})
			return
		}
		c.Next()
	}
}

func hasRole(role string, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
