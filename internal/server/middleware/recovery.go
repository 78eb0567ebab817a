package middleware

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/ollama-relay/pkg/api"
	"go.uber.org/zap"
)

const abortKey = "abort_connection"

// Recovery turns handler panics into a logged 500.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return ginzap.CustomRecoveryWithZap(logger, true, func(c *gin.Context, _ any) {
		if c.Writer.Written() {
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal server error"})
	})
}

// AbortConnection marks the response as unfinishable. Once the handler chain
// returns, ConnectionAborter drops the connection instead of completing the
// response, so the caller sees a truncated stream rather than a clean end.
func AbortConnection(c *gin.Context) {
	c.Set(abortKey, true)
	c.Abort()
}

// ConnectionAborter must be the outermost middleware. It panics with
// http.ErrAbortHandler, which net/http handles by closing the connection
// without logging; the terminating chunk is never sent.
func ConnectionAborter() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if ConnectionAborted(c) {
			panic(http.ErrAbortHandler)
		}
	}
}

// ConnectionAborted reports whether AbortConnection was called for c.
func ConnectionAborted(c *gin.Context) bool {
	return c.GetBool(abortKey)
}
