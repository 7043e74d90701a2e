package middlewares

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/consolidation_backend/utils"
)

const OpsKeyHeader = "x-ops-key"

// RequireOps guards batch endpoints. A request passes with an "x-ops-key" header
// matching the bcrypt hash in OPS_API_KEY_HASH, or as an authenticated admin.
func RequireOps() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if key := c.GetHeader(OpsKeyHeader); key != "" {
			hash := strings.TrimSpace(os.Getenv("OPS_API_KEY_HASH"))
			if hash != "" && utils.CompareSecret(hash, key) == nil {
				ctx = utils.SetUsernameInContext(ctx, "ops")
				ctx = utils.SetRoleInContext(ctx, RoleAdmin)
				c.Request = c.Request.WithContext(ctx)
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": false, "message": "unauthorized"})
			return
		}
		if role, ok := utils.GetRoleFromContext(ctx); ok && role == RoleAdmin {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": false, "message": "forbidden"})
	}
}
