// Package http provides the gin-based HTTP server exposing the vault's
// secret and webhook management surface.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"

	"github.com/allisson/sirrvault/internal/metrics"
	"github.com/allisson/sirrvault/internal/vaulthttp"
)

// Handlers bundles the route handlers the Server wires into its router.
type Handlers struct {
	Secret  *vaulthttp.SecretHandler
	Webhook *vaulthttp.WebhookHandler
}

// Config holds Server's ambient configuration.
type Config struct {
	Host             string
	Port             int
	APIKey           string
	CORSEnabled      bool
	CORSAllowOrigins string
	MetricsEnabled   bool
	MetricsNamespace string
	MeterProvider    metric.MeterProvider
}

// Server wraps an *http.Server around a gin.Engine built from Handlers and
// Config.
type Server struct {
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer builds the router: request id, logging, recovery, optional CORS
// and HTTP metrics, bearer-gated mutating routes, and always-public read
// routes.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(CustomLoggerMiddleware(logger))

	if cors := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, logger); cors != nil {
		router.Use(cors)
	}
	if cfg.MetricsEnabled && cfg.MeterProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(cfg.MeterProvider, cfg.MetricsNamespace))
	}

	router.GET("/health", vaulthttp.Health)

	// Read endpoints are always public per the core spec.
	router.GET("/secrets/:key", handlers.Secret.Get)
	router.HEAD("/secrets/:key", handlers.Secret.Head)

	gated := router.Group("/")
	gated.Use(BearerAuthMiddleware(cfg.APIKey, logger))
	gated.POST("/secrets", handlers.Secret.Create)
	gated.PATCH("/secrets/:key", handlers.Secret.Patch)
	gated.GET("/secrets", handlers.Secret.List)
	gated.DELETE("/secrets/:key", handlers.Secret.Delete)
	gated.POST("/prune", handlers.Secret.Prune)

	if handlers.Webhook != nil {
		gated.POST("/webhooks", handlers.Webhook.Register)
		gated.GET("/webhooks", handlers.Webhook.List)
		gated.DELETE("/webhooks/:id", handlers.Webhook.Delete)
	}

	return &Server{
		logger: logger,
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Router exposes the underlying engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server. It blocks until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
