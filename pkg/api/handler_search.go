package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/search"
)

// parseScope validates the scope name, defaulting empty to all.
func parseScope(raw string) (models.SearchScope, bool) {
	scope := models.SearchScope(strings.TrimSpace(raw))
	if scope == "" {
		scope = models.ScopeAll
	}
	return scope, scope.Valid()
}

// Search handles GET /api/search.
// Query parameters: q (required), scope (all|messages|discussions|people|
// topics, default all), page (1-based), page_size. Pagination applies per
// entity kind.
func (s *Server) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	scope, ok := parseScope(c.Query("scope"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be one of all, messages, discussions, people, topics"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(search.DefaultPageSize)))
	if err != nil || pageSize < 1 || pageSize > search.MaxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_size must be between 1 and 100"})
		return
	}

	resp, err := s.searcher.Search(c.Request.Context(), search.Request{
		Query:    query,
		Scope:    scope,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ReindexRequest is the body for POST /api/reindex.
type ReindexRequest struct {
	Scope string `json:"scope"`
}

// StartReindex handles POST /api/reindex.
func (s *Server) StartReindex(c *gin.Context) {
	var req ReindexRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	scope, ok := parseScope(req.Scope)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be one of all, messages, discussions, people, topics"})
		return
	}

	if err := s.controller.StartReindex(c.Request.Context(), scope.EntityTypes()); err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

// GetReindexStatus handles GET /api/reindex/status.
func (s *Server) GetReindexStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.ReindexStatus())
}

// EmbedEntityRequest is the body for POST /api/embeddings.
type EmbedEntityRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   int64  `json:"entity_id" binding:"required"`
}

// EmbedEntity handles POST /api/embeddings. Embeds (or re-embeds) a
// single entity on demand.
func (s *Server) EmbedEntity(c *gin.Context) {
	var req EmbedEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entityType := models.EntityType(req.EntityType)
	if !entityType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type must be message, discussion, person, or topic"})
		return
	}

	outcome, err := s.controller.EmbedEntity(c.Request.Context(), entityType, req.EntityID)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}
