package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/ollama-relay/internal/gateway"
	"github.com/nulzo/ollama-relay/internal/registry"
	"github.com/nulzo/ollama-relay/internal/server/middleware"
	"github.com/nulzo/ollama-relay/internal/version"
	"github.com/nulzo/ollama-relay/pkg/api"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes caps proxied request bodies. Generations can carry
// base64 images, so this is well above what plain prompts need.
const DefaultMaxBodyBytes = 32 << 20

// Handler serves the Ollama-compatible API on top of the configured backends.
type Handler struct {
	registry *registry.Registry
	lister   *gateway.Lister
	proxy    *gateway.Proxy
	logger   *zap.Logger
	maxBody  int64
}

type Option func(*Handler)

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

func NewHandler(reg *registry.Registry, lister *gateway.Lister, proxy *gateway.Proxy, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry: reg,
		lister:   lister,
		proxy:    proxy,
		logger:   logger,
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListTags merges every backend's model list. Backends that fail are left
// out, so this always answers 200.
func (h *Handler) ListTags(c *gin.Context) {
	models := h.lister.ListAll(c.Request.Context())
	c.JSON(http.StatusOK, api.TagsResponse{Models: models})
}

// Generate forwards to the backend's /api/generate.
func (h *Handler) Generate(c *gin.Context) {
	h.forward(c, "generate")
}

// Chat forwards to the backend's /api/chat.
func (h *Handler) Chat(c *gin.Context) {
	h.forward(c, "chat")
}

// Show forwards to the backend's /api/show.
func (h *Handler) Show(c *gin.Context) {
	h.forward(c, "show")
}

func (h *Handler) forward(c *gin.Context, suffix string) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(api.AppError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err))
			return
		}
		_ = c.Error(api.WrapError(err, http.StatusBadRequest, "failed to read request body"))
		return
	}

	target, err := gateway.Resolve(body, suffix, h.registry)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Set(middleware.ServiceKey, target.Service)

	err = h.proxy.Forward(c.Request.Context(), target, c.Request.Header, c.Writer)

	var interrupted *gateway.StreamInterruptedError
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		h.logger.Debug("Caller went away before the backend finished",
			zap.String("service", target.Service),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		)
		c.Abort()
	case errors.As(err, &interrupted) && interrupted.CallerGone:
		h.logger.Debug("Caller stopped reading mid-stream",
			zap.String("service", target.Service),
			zap.Int64("bytes", interrupted.Written),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(interrupted.Err),
		)
		middleware.AbortConnection(c)
	case errors.As(err, &interrupted):
		h.logger.Warn("Backend stream broke off, dropping caller connection",
			zap.String("service", target.Service),
			zap.Int64("bytes", interrupted.Written),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(interrupted.Err),
		)
		middleware.AbortConnection(c)
	default:
		_ = c.Error(err)
	}
}

func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version()})
}

// Root answers the liveness probe Ollama clients send before anything else.
func (h *Handler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Ollama is running")
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:   "ok",
		Backends: h.registry.Len(),
	})
}
