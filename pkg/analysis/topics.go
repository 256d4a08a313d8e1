package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

// topicPalette colors new topics in creation order, cycling every ten.
var topicPalette = []string{
	"#6366f1", "#f43f5e", "#f59e0b", "#10b981", "#0ea5e9",
	"#8b5cf6", "#14b8a6", "#f97316", "#ec4899", "#06b6d4",
}

const topicsMaxTokens = 16384

const topicPromptTemplate = `You are organizing discussions from a chat room archive into topic categories.

Below are all discussions with their titles and summaries. Create 5-10 topic categories that group them meaningfully, then assign each discussion to 1-3 topics.

%s

DISCUSSIONS:
%s

RULES:
- Topic names should be short (1-3 words) and descriptive
- Reuse an existing topic when it fits instead of inventing a near-duplicate
- Every discussion must be assigned to at least one topic
- A discussion may have up to 3 topics, ordered by relevance

Respond with topics and assignments in the required JSON format.`

// TopicResult summarizes one classification pass.
type TopicResult struct {
	TopicsCreated     int   `json:"topics_created"`
	TopicsReused      int   `json:"topics_reused"`
	DiscussionsTagged int   `json:"discussions_tagged"`
	TotalTokens       int   `json:"total_tokens"`
	TouchedTopicIDs   []int64
}

// TopicClassifier reclassifies every discussion in a room into topics with
// a single model call.
type TopicClassifier struct {
	store  *store.Store
	model  gateway.Client
	logger *slog.Logger
}

func NewTopicClassifier(st *store.Store, model gateway.Client, logger *slog.Logger) *TopicClassifier {
	return &TopicClassifier{
		store:  st,
		model:  model,
		logger: logger.With("component", "topic_classifier"),
	}
}

// Classify runs the full reclassification for one room. Existing
// discussion-topic links are replaced wholesale; topics left without any
// discussion afterwards are deleted.
func (c *TopicClassifier) Classify(ctx context.Context, roomID int64) (*TopicResult, error) {
	discussions, _, err := c.store.ListRoomDiscussions(ctx, roomID, 0, 10000)
	if err != nil {
		return nil, err
	}
	if len(discussions) == 0 {
		c.logger.Info("no discussions to classify", "room_id", roomID)
		return &TopicResult{}, nil
	}
	existing, err := c.store.ListRoomTopics(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var resp topicResponse
	usage, err := c.model.GenerateJSON(ctx, gateway.GenerateRequest{
		Prompt:          buildTopicPrompt(discussions, existing),
		ResponseSchema:  topicResponseSchema,
		Temperature:     genai.Ptr(float32(1.0)),
		MaxOutputTokens: topicsMaxTokens,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &TopicResult{TotalTokens: usage.Total()}
	if err := c.store.WithTx(ctx, func(tx *store.Store) error {
		return c.apply(ctx, tx, roomID, &resp, existing, result)
	}); err != nil {
		return nil, err
	}

	c.logger.Info("topic classification complete", "room_id", roomID,
		"created", result.TopicsCreated, "reused", result.TopicsReused,
		"tagged", result.DiscussionsTagged, "tokens", result.TotalTokens)
	return result, nil
}

func (c *TopicClassifier) apply(ctx context.Context, tx *store.Store, roomID int64, resp *topicResponse, existing []models.Topic, result *TopicResult) error {
	existingByName := make(map[string]*models.Topic, len(existing))
	for i := range existing {
		existingByName[strings.ToLower(existing[i].Name)] = &existing[i]
	}

	if err := tx.ClearRoomTopicLinks(ctx, roomID); err != nil {
		return err
	}

	// New topics take palette colors continuing from where the room's
	// existing topics left off.
	colorIndex := len(existing)
	topicsByName := make(map[string]int64, len(resp.Topics))
	for _, def := range resp.Topics {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := topicsByName[key]; dup {
			continue
		}

		t := &models.Topic{RoomID: roomID, Name: name}
		if def.Description != "" {
			t.Description = &def.Description
		}
		if prior, ok := existingByName[key]; ok {
			t.Color = prior.Color
			result.TopicsReused++
		} else {
			t.Color = topicPalette[colorIndex%len(topicPalette)]
			colorIndex++
			result.TopicsCreated++
		}

		saved, err := tx.UpsertTopic(ctx, t)
		if err != nil {
			return err
		}
		topicsByName[key] = saved.ID
		result.TouchedTopicIDs = append(result.TouchedTopicIDs, saved.ID)
	}

	tagged := map[int64]bool{}
	for _, asgn := range resp.Assignments {
		names := asgn.TopicNames
		if len(names) > 3 {
			names = names[:3]
		}
		for _, name := range names {
			topicID, ok := topicsByName[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				c.logger.Warn("assignment references undeclared topic",
					"discussion_id", asgn.DiscussionID, "topic", name)
				continue
			}
			if err := tx.LinkDiscussionTopic(ctx, asgn.DiscussionID, topicID); err != nil {
				return err
			}
			tagged[asgn.DiscussionID] = true
		}
	}
	result.DiscussionsTagged = len(tagged)

	if err := tx.DeleteOrphanTopics(ctx, roomID); err != nil {
		return err
	}
	sort.Slice(result.TouchedTopicIDs, func(i, j int) bool {
		return result.TouchedTopicIDs[i] < result.TouchedTopicIDs[j]
	})
	return nil
}

func buildTopicPrompt(discussions []models.Discussion, existing []models.Topic) string {
	var topics strings.Builder
	if len(existing) == 0 {
		topics.WriteString("EXISTING TOPICS: none yet.")
	} else {
		topics.WriteString("EXISTING TOPICS (reuse these names when they fit):\n")
		for _, t := range existing {
			desc := ""
			if t.Description != nil {
				desc = ": " + *t.Description
			}
			fmt.Fprintf(&topics, "- %s%s\n", t.Name, desc)
		}
	}

	var list strings.Builder
	for _, d := range discussions {
		summary := ""
		if d.Summary != nil {
			summary = truncate(*d.Summary, 300)
		}
		fmt.Fprintf(&list, "[%d] %s\n%s\n\n", d.ID, d.Title, summary)
	}

	return fmt.Sprintf(topicPromptTemplate, topics.String(), strings.TrimSpace(list.String()))
}
