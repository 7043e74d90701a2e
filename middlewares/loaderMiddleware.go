package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/consolidation_backend/models"
)

// LoaderMiddleware attaches fresh projection loaders to every request so lookups
// made while serving it are batched and cached together.
func LoaderMiddleware(store func() models.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := store()
		if s == nil {
			c.Next()
			return
		}
		ctx := models.WithLoaders(c.Request.Context(), models.NewLoaders(s))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
