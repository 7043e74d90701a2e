package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/consolidation_backend/appctx"
	"github.com/mmdatafocus/consolidation_backend/utils"
)

const RoleAdmin = "admin"

var authClaimKey = appctx.ContextKey("auth")

// AuthMiddleware validates an optional bearer token and puts its claims,
// username and role on the request context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": false, "message": "unauthorized"})
			return
		}
		validate, err := utils.JwtValidate(strings.TrimSpace(auth[len(bearer):]))
		if err != nil || !validate.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": false, "message": "unauthorized"})
			return
		}

		customClaim, _ := validate.Claims.(*utils.JwtCustomClaim)
		ctx := appctx.Set(c.Request.Context(), authClaimKey, customClaim)
		if customClaim != nil {
			ctx = utils.SetUsernameInContext(ctx, customClaim.Username)
			ctx = utils.SetRoleInContext(ctx, customClaim.Role)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func CtxValue(ctx context.Context) *utils.JwtCustomClaim {
	raw, _ := ctx.Value(authClaimKey).(*utils.JwtCustomClaim)
	return raw
}

// ActingUser names the caller: the bearer token subject when present,
// otherwise the username resolved from the session token.
func ActingUser(ctx context.Context) string {
	if claim := CtxValue(ctx); claim != nil && claim.Username != "" {
		return claim.Username
	}
	username, _ := utils.GetUsernameFromContext(ctx)
	return username
}

// RequireUser rejects requests without an authenticated username.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": false, "message": "unauthorized"})
			return
		}
		c.Next()
	}
}
