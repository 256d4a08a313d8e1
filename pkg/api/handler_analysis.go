package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

// pathID parses the :id path parameter. On failure it writes a 400
// response and returns false.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// StartAnalysisRequest is the body for POST /api/rooms/:id/analysis.
type StartAnalysisRequest struct {
	Mode string `json:"mode"`
}

// StartAnalysis handles POST /api/rooms/:id/analysis.
func (s *Server) StartAnalysis(c *gin.Context) {
	roomID, ok := pathID(c)
	if !ok {
		return
	}

	var req StartAnalysisRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	mode := models.AnalysisMode(req.Mode)
	switch mode {
	case models.ModeFull, models.ModeIncremental:
	case "":
		mode = models.ModeIncremental
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be \"full\" or \"incremental\""})
		return
	}

	runID, err := s.controller.StartAnalysis(c.Request.Context(), roomID, mode)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// GetAnalysisStatus handles GET /api/rooms/:id/analysis.
// Returns the latest run for the room, sweeping stale runs first.
func (s *Server) GetAnalysisStatus(c *gin.Context) {
	roomID, ok := pathID(c)
	if !ok {
		return
	}

	run, err := s.controller.AnalysisStatus(c.Request.Context(), roomID)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// PreviewIncremental handles GET /api/rooms/:id/analysis/preview.
func (s *Server) PreviewIncremental(c *gin.Context) {
	roomID, ok := pathID(c)
	if !ok {
		return
	}

	preview, err := s.controller.PreviewIncremental(c.Request.Context(), roomID)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// StartTopicClassification handles POST /api/rooms/:id/topics/classify.
func (s *Server) StartTopicClassification(c *gin.Context) {
	roomID, ok := pathID(c)
	if !ok {
		return
	}

	runID, err := s.controller.StartTopicClassification(c.Request.Context(), roomID)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}
