package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GeneratePersonSummary handles POST /api/people/:id/summary.
// Generates an AI profile summary from the person's message history.
// Runs synchronously; profile generation is a single model call.
func (s *Server) GeneratePersonSummary(c *gin.Context) {
	personID, ok := pathID(c)
	if !ok {
		return
	}

	person, err := s.profiles.GenerateSummary(c.Request.Context(), personID)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, person)
}
