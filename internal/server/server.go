package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/ollama-relay/internal/config"
	"github.com/nulzo/ollama-relay/internal/server/middleware"
	"github.com/nulzo/ollama-relay/internal/server/ollama"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	handler *ollama.Handler
}

func New(cfg *config.Config, logger *zap.Logger, handler *ollama.Handler) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	engine.Use(middleware.ConnectionAborter())
	engine.Use(middleware.Recovery(logger))
	engine.Use(middleware.RequestID())
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	}
	engine.Use(middleware.Logger(logger))

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		handler: handler,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
