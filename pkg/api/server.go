// Package api exposes the HTTP surface: analysis and classification
// triggers, hybrid search, embedding maintenance, and read endpoints
// for discussions and people.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronicle-archive/chronicle/pkg/database"
	"github.com/chronicle-archive/chronicle/pkg/profile"
	"github.com/chronicle-archive/chronicle/pkg/runs"
	"github.com/chronicle-archive/chronicle/pkg/search"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

// Server holds the service dependencies shared by all handlers.
type Server struct {
	db         *database.Client
	store      *store.Store
	controller *runs.Controller
	searcher   *search.Searcher
	profiles   *profile.Service
	logger     *slog.Logger

	httpServer *http.Server
}

// NewServer creates an API server over the given service layer.
func NewServer(db *database.Client, st *store.Store, ctrl *runs.Controller, searcher *search.Searcher, profiles *profile.Service, logger *slog.Logger) *Server {
	return &Server{
		db:         db,
		store:      st,
		controller: ctrl,
		searcher:   searcher,
		profiles:   profiles,
		logger:     logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/healthz", s.Health)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/rooms/:id/analysis", s.StartAnalysis)
		apiGroup.GET("/rooms/:id/analysis", s.GetAnalysisStatus)
		apiGroup.GET("/rooms/:id/analysis/preview", s.PreviewIncremental)
		apiGroup.POST("/rooms/:id/topics/classify", s.StartTopicClassification)
		apiGroup.GET("/rooms/:id/discussions", s.ListDiscussions)

		apiGroup.GET("/discussions/:id", s.GetDiscussion)

		apiGroup.GET("/search", s.Search)

		apiGroup.POST("/reindex", s.StartReindex)
		apiGroup.GET("/reindex/status", s.GetReindexStatus)
		apiGroup.POST("/embeddings", s.EmbedEntity)

		apiGroup.POST("/people/:id/summary", s.GeneratePersonSummary)
	}

	return r
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Health handles GET /healthz. Only the database is checked; the model
// provider is external and its outages must not restart the service.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.Pool())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}
