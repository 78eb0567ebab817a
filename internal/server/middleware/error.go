package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/ollama-relay/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached by a handler as
// {"error": "..."}. Errors carrying a backend's own JSON body are relayed as-is.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// the status line is gone; nothing sensible can be written anymore
		if c.Writer.Written() {
			return
		}

		appErr := api.FromError(c.Errors.Last().Err)
		if appErr.Code >= http.StatusInternalServerError && appErr.Log != nil {
			logger.Error("Request failed",
				zap.Int("status", appErr.Code),
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.Error(appErr.Log),
			)
		}

		if len(appErr.Body) > 0 {
			c.Data(appErr.Code, "application/json; charset=utf-8", appErr.Body)
		} else {
			c.JSON(appErr.Code, api.ErrorResponse{Error: appErr.Message})
		}
		c.Abort()
	}
}
