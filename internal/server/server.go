// Package server exposes the OpenAI-compatible HTTP surface.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ghosthk/zai2api/internal/config"
	"github.com/ghosthk/zai2api/internal/logger"
	"github.com/ghosthk/zai2api/internal/pipeline"
	"github.com/ghosthk/zai2api/internal/upstream"
)

// Server wires the gin engine, the pipeline and the model registry
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	pipeline *pipeline.Pipeline
	registry *upstream.Registry
	log      *logrus.Entry
}

// New constructs the server and its collaborators from configuration
func New(cfg *config.Config) (*Server, error) {
	client := upstream.NewClient(cfg.Upstream)
	registry := upstream.NewRegistry(client)
	pipe, err := pipeline.New(cfg, client, registry)
	if err != nil {
		return nil, err
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipe,
		registry: registry,
		log:      logger.WithComponent("server"),
	}
	s.engine = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(corsMiddleware())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/v1")
	if s.cfg.APIKey != "" {
		v1.Use(authMiddleware(s.cfg.APIKey))
	}
	v1.GET("/models", s.handleModels)
	v1.POST("/chat/completions", s.handleChatCompletions)

	return r
}

// Engine exposes the router, mainly for tests
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts serving on the configured listen address
func (s *Server) Run() error {
	s.log.Infof("listening on %s", s.cfg.Listen)
	return s.engine.Run(s.cfg.Listen)
}
