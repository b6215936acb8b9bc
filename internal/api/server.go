package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"vexchange/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the order service.
type Server struct {
	cfg     *infra.Config
	engine  *gin.Engine
	httpSrv *http.Server
	health  HealthChecker
	metrics *infra.Metrics
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the router and wraps it with CORS.
func NewServer(cfg *infra.Config, svc OrderService, health HealthChecker, logger *slog.Logger, metrics *infra.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		health:  health,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}

	s.engine.Use(Recovery(logger, metrics), AccessLog(logger, metrics))
	s.engine.GET("/", s.handleInfo)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics)

	NewHandler(svc).RegisterRoutes(s.engine.Group("/api/v1"))

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      c.Handler(s.engine),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return s
}

// Handler returns the root handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("🌐 HTTP server listening", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    s.cfg.App.Name,
		"version": s.cfg.App.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}
