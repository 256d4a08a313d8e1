package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const classifyPromptTemplate = `Analyze these chat messages to identify discussion threads.

ACTIVE DISCUSSIONS:
%s

MESSAGES TO CLASSIFY:
%s

RULES:
- Only assign a message to a discussion if it is ACTUALLY ABOUT that topic - topic relevance is required
- Do NOT assign messages to a discussion just because it is active - check the topic_keywords
- If a message doesn't fit any active discussion, either create a NEW one or leave assignments empty for noise/greetings
- Confidence: LOW (0.3-0.5) for tangentially related, HIGH (0.8-1.0) only for directly on-topic messages
- Use "NEW" as discussion_id to create new discussions (include a descriptive title)
- A discussion can span multiple days - don't end it just because of time gaps
- End a discussion only when the topic has clearly concluded or shifted permanently
- Mark ended discussions in discussions_ended array

OUTPUT STRICT JSON (no markdown, no extra text):
{"classifications":[{"message_id":123,"assignments":[{"discussion_id":"1","title":null,"confidence":0.9}]}],"discussions_ended":[],"new_discussions":[{"temp_id":"NEW_1","title":"Example Title"}]}`

const promptTimeLayout = "2006-01-02 15:04"

// formatContent renders a message's text for the model, substituting
// placeholders for media messages.
func formatContent(m *models.Message) string {
	text := m.TextContent()
	switch m.MessageType {
	case models.MessageTypeImage:
		if text != "" {
			return fmt.Sprintf("[[Image: %s]]", text)
		}
		return "[[Image]]"
	case models.MessageTypeVideo:
		if text != "" {
			return fmt.Sprintf("[[Video: %s]]", text)
		}
		return "[[Video]]"
	case models.MessageTypeAudio:
		if text != "" {
			return fmt.Sprintf("[[Audio: %s]]", text)
		}
		return "[[Audio]]"
	case models.MessageTypeFile:
		if text != "" {
			return fmt.Sprintf("[[File: %s]]", text)
		}
		return "[[File]]"
	default:
		return text
	}
}

// truncate cuts s to at most n bytes on a rune boundary, so multi-byte
// content never leaks a partial sequence into a prompt.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// replyExcerpt renders the replied-to message as `sender: "excerpt..."`.
func replyExcerpt(replied *models.Message, limit int) string {
	content := replied.TextContent()
	if len(content) > limit {
		content = truncate(content, limit) + "..."
	}
	return fmt.Sprintf("%s: %q", replied.SenderDisplayName(), content)
}

type promptMessage struct {
	ID         int64  `json:"id"`
	Timestamp  string `json:"timestamp"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	ReplyingTo string `json:"replying_to,omitempty"`
}

// formatWindowMessages renders a window's messages as indented JSON for the
// prompt. replies maps message id to its replied-to message.
func formatWindowMessages(messages []models.Message, replies map[int64]*models.Message) (string, error) {
	out := make([]promptMessage, 0, len(messages))
	for i := range messages {
		m := &messages[i]
		pm := promptMessage{
			ID:        m.ID,
			Timestamp: m.Timestamp.Format(promptTimeLayout),
			Sender:    m.SenderDisplayName(),
			Content:   truncate(formatContent(m), 500),
		}
		if m.ReplyToMessageID != nil {
			if replied, ok := replies[*m.ReplyToMessageID]; ok {
				pm.ReplyingTo = replyExcerpt(replied, 100)
			}
		}
		out = append(out, pm)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render prompt messages: %w", err)
	}
	return string(data), nil
}

type promptDiscussion struct {
	ID                 int64    `json:"id"`
	Title              string   `json:"title"`
	TopicKeywords      []string `json:"topic_keywords"`
	RecentParticipants []string `json:"recent_participants"`
	MessageCount       int      `json:"message_count"`
	WindowsSinceActive int      `json:"windows_since_active"`
}

// formatActiveDiscussions renders the non-dormant, non-ended discussions.
func formatActiveDiscussions(s *state) (string, error) {
	if len(s.discussions) == 0 {
		return "None yet - this is the first window.", nil
	}
	active := s.promptable()
	if len(active) == 0 {
		return "None currently active.", nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	out := make([]promptDiscussion, 0, len(active))
	for _, d := range active {
		keywords := d.TopicKeywords
		if len(keywords) > 5 {
			keywords = keywords[:5]
		}
		participants := d.RecentParticipant
		if len(participants) > 3 {
			participants = participants[len(participants)-3:]
		}
		out = append(out, promptDiscussion{
			ID:                 d.ID,
			Title:              d.Title,
			TopicKeywords:      keywords,
			RecentParticipants: participants,
			MessageCount:       len(d.MessageIDs),
			WindowsSinceActive: s.windowsSinceActive(d),
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render active discussions: %w", err)
	}
	return string(data), nil
}

// buildClassifyPrompt assembles the per-window classification prompt.
func buildClassifyPrompt(s *state, messages []models.Message, replies map[int64]*models.Message) (string, error) {
	discussions, err := formatActiveDiscussions(s)
	if err != nil {
		return "", err
	}
	rendered, err := formatWindowMessages(messages, replies)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(classifyPromptTemplate, discussions, rendered), nil
}

// buildSummaryPrompt assembles the per-discussion summary prompt from its
// first messages.
func buildSummaryPrompt(title string, messages []models.Message, replies map[int64]*models.Message) string {
	if len(messages) > 100 {
		messages = messages[:100]
	}
	var lines []string
	for i := range messages {
		m := &messages[i]
		line := fmt.Sprintf("[%s] %s", m.Timestamp.Format(promptTimeLayout), m.SenderDisplayName())
		if m.ReplyToMessageID != nil {
			if replied, ok := replies[*m.ReplyToMessageID]; ok {
				line += fmt.Sprintf(" (replying to %s)", replyExcerpt(replied, 50))
			}
		}
		line += ": " + truncate(formatContent(m), 300)
		lines = append(lines, line)
	}
	return fmt.Sprintf(`Summarize this discussion titled %q.

Messages:
%s

Write a concise summary (2-3 sentences) capturing the main topics, arguments, and conclusions.`,
		title, strings.Join(lines, "\n"))
}
