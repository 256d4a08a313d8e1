// Package models defines the archive's persistent entities and the request/
// response shapes exchanged with collaborators.
package models

import "time"

// Person is a durable identity keyed by the upstream homeserver user ID.
type Person struct {
	ID                    int64      `json:"id"`
	ExternalUserID        string     `json:"external_user_id"`
	DisplayName           *string    `json:"display_name,omitempty"`
	AvatarURL             *string    `json:"avatar_url,omitempty"`
	ExternalProfileURL    *string    `json:"external_profile_url,omitempty"`
	ExternalName          *string    `json:"external_name,omitempty"`
	Notes                 *string    `json:"notes,omitempty"`
	AISummary             *string    `json:"ai_summary,omitempty"`
	AISummaryGeneratedAt  *time.Time `json:"ai_summary_generated_at,omitempty"`
	AISummaryMessageCount int        `json:"ai_summary_message_count"`
}

// Room is a chat room seen by the ingestion collaborator.
type Room struct {
	ID             int64   `json:"id"`
	ExternalRoomID string  `json:"external_room_id"`
	Name           *string `json:"name,omitempty"`
	IsGroup        bool    `json:"is_group"`
	DisplayOrder   int     `json:"display_order"`
}

// MessageType values stored in messages.message_type.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// Message is an immutable archived chat event. Ordering by (timestamp, id)
// is the total order all windowing relies on.
type Message struct {
	ID                 int64     `json:"id"`
	ExternalEventID    string    `json:"external_event_id"`
	RoomID             *int64    `json:"room_id,omitempty"`
	SenderID           *int64    `json:"sender_id,omitempty"`
	Content            *string   `json:"content,omitempty"`
	ReplyToMessageID   *int64    `json:"reply_to_message_id,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	MessageType        string    `json:"message_type"`
	MediaURL           *string   `json:"media_url,omitempty"`
	SenderName         *string   `json:"sender_name,omitempty"`
	SenderAvatarURL    *string   `json:"sender_avatar_url,omitempty"`
}

// TextContent returns the message content, or "" when absent.
func (m *Message) TextContent() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// SenderDisplayName returns the sender's display name, or "Unknown".
func (m *Message) SenderDisplayName() string {
	if m.SenderName == nil || *m.SenderName == "" {
		return "Unknown"
	}
	return *m.SenderName
}

// RoomMember is derived room membership, maintained on ingest.
type RoomMember struct {
	RoomID       int64     `json:"room_id"`
	PersonID     int64     `json:"person_id"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	MessageCount int       `json:"message_count"`
}

// Discussion is a durable grouping of messages judged to share a thread.
type Discussion struct {
	ID               int64     `json:"id"`
	RoomID           int64     `json:"room_id"`
	AnalysisRunID    *int64    `json:"analysis_run_id,omitempty"`
	Title            string    `json:"title"`
	Summary          *string   `json:"summary,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	MessageCount     int       `json:"message_count"`
	ParticipantCount int       `json:"participant_count"`
}

// DiscussionMessage links a message into a discussion with the model's
// confidence at assignment time. Confidence is audit metadata only.
type DiscussionMessage struct {
	DiscussionID int64   `json:"discussion_id"`
	MessageID    int64   `json:"message_id"`
	Confidence   float64 `json:"confidence"`
}

// Topic is a room-scoped category spanning multiple discussions.
type Topic struct {
	ID          int64   `json:"id"`
	RoomID      int64   `json:"room_id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Color       string  `json:"color"`
}

// EntityType identifies the four embeddable entity kinds.
type EntityType string

const (
	EntityMessage    EntityType = "message"
	EntityDiscussion EntityType = "discussion"
	EntityPerson     EntityType = "person"
	EntityTopic      EntityType = "topic"
)

// AllEntityTypes in a stable order (used by reindex and search scope=all).
var AllEntityTypes = []EntityType{EntityMessage, EntityDiscussion, EntityPerson, EntityTopic}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityMessage, EntityDiscussion, EntityPerson, EntityTopic:
		return true
	}
	return false
}

// Embedding is a vector row for one entity, keyed by (entity_type, entity_id).
type Embedding struct {
	ID          int64      `json:"id"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    int64      `json:"entity_id"`
	ContentHash string     `json:"content_hash"`
	Vector      []float32  `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
}
