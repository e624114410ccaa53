package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/ciagent/internal/common/apperr"
	"github.com/kandev/ciagent/internal/common/logger"
)

// Recovery recovers from panics in a handler, logs them, and responds with
// a 500 instead of letting the connection die (spec.md §7 propagation
// policy: "the request handler wraps every dispatch in a catch-all").
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				appErr := apperr.InternalError("internal server error", nil)
				c.AbortWithStatusJSON(http.StatusInternalServerError, appErr)
			}
		}()
		c.Next()
	}
}
