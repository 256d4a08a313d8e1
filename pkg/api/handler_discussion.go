package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

// DiscussionMessage is one message in a discussion detail response,
// carrying the model's assignment confidence.
type DiscussionMessage struct {
	models.Message
	Confidence float64 `json:"confidence"`
}

// ListDiscussions handles GET /api/rooms/:id/discussions.
// Paginated, newest first.
func (s *Server) ListDiscussions(c *gin.Context) {
	roomID, ok := pathID(c)
	if !ok {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_size must be between 1 and 100"})
		return
	}

	if _, err := s.store.GetRoom(c.Request.Context(), roomID); err != nil {
		s.renderServiceError(c, err)
		return
	}

	discussions, total, err := s.store.ListRoomDiscussions(c.Request.Context(), roomID, (page-1)*pageSize, pageSize)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"discussions": discussions,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// GetDiscussion handles GET /api/discussions/:id. Returns the
// discussion with its messages, topics, and participants.
func (s *Server) GetDiscussion(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	discussion, err := s.store.GetDiscussion(ctx, id)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	messageIDs, err := s.store.DiscussionMessageIDs(ctx, id)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}
	messages, err := s.store.GetMessages(ctx, messageIDs)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}
	confidences, err := s.store.DiscussionMessageConfidences(ctx, id)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}
	topics, err := s.store.DiscussionTopics(ctx, id)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}
	participants, err := s.store.DiscussionParticipantNames(ctx, id)
	if err != nil {
		s.renderServiceError(c, err)
		return
	}

	detail := make([]DiscussionMessage, 0, len(messages))
	for _, m := range messages {
		detail = append(detail, DiscussionMessage{Message: m, Confidence: confidences[m.ID]})
	}

	c.JSON(http.StatusOK, gin.H{
		"discussion":   discussion,
		"messages":     detail,
		"topics":       topics,
		"participants": participants,
	})
}
