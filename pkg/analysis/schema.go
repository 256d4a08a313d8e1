package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/genai"
)

// FlexID is a model-emitted discussion id: either a durable integer id or a
// temp string such as "NEW_1" or "existing_42". The schema asks for strings
// but models emit bare integers often enough that both are accepted.
type FlexID struct {
	IsInt bool
	Int   int64
	Str   string
}

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return fmt.Errorf("discussion_id must not be null")
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		f.IsInt = true
		f.Int = n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		// Strings like "42" still mean a durable id.
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			f.IsInt = true
			f.Int = n
			return nil
		}
		f.Str = s
		return nil
	}
	return fmt.Errorf("discussion_id must be an integer or string, got %s", data)
}

func (f FlexID) String() string {
	if f.IsInt {
		return strconv.FormatInt(f.Int, 10)
	}
	return f.Str
}

// windowResponse is the schema-constrained payload for one window.
type windowResponse struct {
	Classifications []messageClassification `json:"classifications"`
	DiscussionsEnded []int64                `json:"discussions_ended"`
	NewDiscussions  []newDiscussion         `json:"new_discussions"`
}

type messageClassification struct {
	MessageID   int64                  `json:"message_id"`
	Assignments []discussionAssignment `json:"assignments"`
}

type discussionAssignment struct {
	DiscussionID FlexID  `json:"discussion_id"`
	Title        *string `json:"title,omitempty"`
	Confidence   float64 `json:"confidence"`
}

type newDiscussion struct {
	TempID string `json:"temp_id"`
	Title  string `json:"title"`
}

// windowResponseSchema constrains the classification call's output.
var windowResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"classifications": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"message_id": {Type: genai.TypeInteger},
					"assignments": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"discussion_id": {Type: genai.TypeString},
								"title":         {Type: genai.TypeString},
								"confidence":    {Type: genai.TypeNumber},
							},
							Required: []string{"discussion_id", "confidence"},
						},
					},
				},
				Required: []string{"message_id", "assignments"},
			},
		},
		"discussions_ended": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeInteger},
		},
		"new_discussions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"temp_id": {Type: genai.TypeString},
					"title":   {Type: genai.TypeString},
				},
				Required: []string{"temp_id", "title"},
			},
		},
	},
	Required: []string{"classifications", "discussions_ended", "new_discussions"},
}

// inspectDiscussionTool lets the model pull a discussion's full message list
// before deciding whether a new message belongs to it.
var inspectDiscussionTool = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"discussion_id": {
			Type:        genai.TypeInteger,
			Description: "The ID of the discussion to inspect",
		},
	},
	Required: []string{"discussion_id"},
}

// topicResponse is the schema-constrained payload for topic classification.
type topicResponse struct {
	Topics      []topicDefinition `json:"topics"`
	Assignments []topicAssignment `json:"assignments"`
}

type topicDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type topicAssignment struct {
	DiscussionID int64    `json:"discussion_id"`
	TopicNames   []string `json:"topic_names"`
}

var topicResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"topics": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"name", "description"},
			},
		},
		"assignments": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"discussion_id": {Type: genai.TypeInteger},
					"topic_names": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeString},
					},
				},
				Required: []string{"discussion_id", "topic_names"},
			},
		},
	},
	Required: []string{"topics", "assignments"},
}
