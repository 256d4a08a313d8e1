// Package profile generates model-written personality summaries for people
// from their message history.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/search"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

const (
	// maxProfileMessages bounds the prompt to the person's most recent
	// messages.
	maxProfileMessages = 1000

	profileMaxTokens      = 2048
	profileThinkingBudget = 712
	messageExcerptChars   = 500
)

const promptTemplate = `Analyze the following messages from %s in a chat room archive. Generate a brief personality profile (2-3 paragraphs) covering:

- Communication style and tone
- Topics and themes they discuss most
- Notable perspectives or recurring ideas
- Any other interesting patterns

Keep it objective and insightful. Do not use bullet points in your response - write in prose.

Note: Ignore any "[message edited]" indicators or edit history - focus only on the actual content of what they said.

Messages (with timestamps):
%s`

// Service regenerates a person's AI summary and keeps their embedding
// current.
type Service struct {
	store   *store.Store
	model   gateway.Client
	cfg     *config.Config
	indexer *search.Indexer
	logger  *slog.Logger
}

func NewService(st *store.Store, model gateway.Client, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		model:   model,
		cfg:     cfg,
		indexer: search.NewIndexer(st, model, cfg, logger),
		logger:  logger.With("component", "profile"),
	}
}

// GenerateSummary writes a fresh AI summary for the person and re-embeds
// them. Returns the updated person.
func (s *Service) GenerateSummary(ctx context.Context, personID int64) (*models.Person, error) {
	if !s.cfg.HasModelCredentials() {
		return nil, gateway.ErrConfigMissing
	}
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.PersonMessages(ctx, personID, maxProfileMessages)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("person %d has no messages to summarize", personID)
	}

	name := "Unknown"
	if person.DisplayName != nil && *person.DisplayName != "" {
		name = *person.DisplayName
	}
	s.logger.Info("generating profile summary", "person_id", personID, "name", name, "messages", len(messages))

	res, err := s.model.Generate(ctx, gateway.GenerateRequest{
		Prompt:          fmt.Sprintf(promptTemplate, name, formatMessages(messages)),
		MaxOutputTokens: profileMaxTokens,
		ThinkingBudget:  genai.Ptr(int32(profileThinkingBudget)),
	})
	if err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(res.Text)
	if summary == "" {
		return nil, fmt.Errorf("model returned an empty summary")
	}

	count, err := s.store.CountPersonMessages(ctx, personID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePersonAISummary(ctx, personID, summary, count, time.Now().UTC()); err != nil {
		return nil, err
	}
	if _, err := s.indexer.EmbedEntity(ctx, models.EntityPerson, personID); err != nil {
		s.logger.Warn("failed to embed person after summary", "person_id", personID, "error", err)
	}
	return s.store.GetPerson(ctx, personID)
}

func formatMessages(messages []models.Message) string {
	var b strings.Builder
	for i := range messages {
		content := messages[i].TextContent()
		if len(content) > messageExcerptChars {
			content = content[:messageExcerptChars] + "..."
		}
		fmt.Fprintf(&b, "[%s] %s\n", messages[i].Timestamp.Format("2006-01-02 15:04"), content)
	}
	return strings.TrimRight(b.String(), "\n")
}
