package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/ollama-relay/internal/server/middleware"
	"github.com/nulzo/ollama-relay/pkg/api"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	// rendered by ErrorHandler like every other error
	s.router.NoRoute(func(c *gin.Context) {
		_ = c.Error(api.NotFoundError("no such endpoint: " + c.Request.URL.Path))
	})
	s.router.NoMethod(func(c *gin.Context) {
		_ = c.Error(api.AppError(http.StatusMethodNotAllowed, "method not allowed", nil))
	})

	// Liveness, as probed by Ollama clients
	s.router.GET("/", s.handler.Root)
	s.router.HEAD("/", s.handler.Root)
	s.router.GET("/health", s.handler.Health)

	ollamaAPI := s.router.Group("/api")
	{
		ollamaAPI.GET("/tags", s.handler.ListTags)
		ollamaAPI.GET("/version", s.handler.Version)

		ollamaAPI.POST("/generate", s.handler.Generate)
		ollamaAPI.POST("/chat", s.handler.Chat)
		ollamaAPI.POST("/show", s.handler.Show)
	}
}
