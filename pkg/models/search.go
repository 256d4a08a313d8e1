package models

import "time"

// SearchScope selects which entity kinds a search touches.
type SearchScope string

const (
	ScopeAll         SearchScope = "all"
	ScopeMessages    SearchScope = "messages"
	ScopeDiscussions SearchScope = "discussions"
	ScopePeople      SearchScope = "people"
	ScopeTopics      SearchScope = "topics"
)

// EntityTypes expands a scope into the entity kinds it covers.
func (s SearchScope) EntityTypes() []EntityType {
	switch s {
	case ScopeMessages:
		return []EntityType{EntityMessage}
	case ScopeDiscussions:
		return []EntityType{EntityDiscussion}
	case ScopePeople:
		return []EntityType{EntityPerson}
	case ScopeTopics:
		return []EntityType{EntityTopic}
	default:
		return AllEntityTypes
	}
}

// Valid reports whether s is a known scope.
func (s SearchScope) Valid() bool {
	switch s {
	case ScopeAll, ScopeMessages, ScopeDiscussions, ScopePeople, ScopeTopics:
		return true
	}
	return false
}

// MatchType records how a search hit was found.
type MatchType string

const (
	MatchHybrid   MatchType = "hybrid"
	MatchSemantic MatchType = "semantic"
)

// MessageHit is a message search result.
type MessageHit struct {
	ID           int64     `json:"id"`
	Content      string    `json:"content"`
	SenderID     *int64    `json:"sender_id,omitempty"`
	SenderName   *string   `json:"sender_name,omitempty"`
	SenderAvatar *string   `json:"sender_avatar,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Score        float64   `json:"score"`
	MatchType    MatchType `json:"match_type"`
}

// DiscussionHit is a discussion search result.
type DiscussionHit struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Summary      *string   `json:"summary,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	MessageCount int       `json:"message_count"`
	Score        float64   `json:"score"`
	MatchType    MatchType `json:"match_type"`
}

// PersonHit is a person search result.
type PersonHit struct {
	ID          int64     `json:"id"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	AISummary   *string   `json:"ai_summary,omitempty"`
	Score       float64   `json:"score"`
	MatchType   MatchType `json:"match_type"`
}

// TopicHit is a topic search result.
type TopicHit struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Color       string    `json:"color"`
	Score       float64   `json:"score"`
	MatchType   MatchType `json:"match_type"`
}

// SearchCounts holds per-kind candidate totals (post-threshold,
// pre-pagination).
type SearchCounts struct {
	Messages    int `json:"messages"`
	Discussions int `json:"discussions"`
	People      int `json:"people"`
	Topics      int `json:"topics"`
	Total       int `json:"total"`
}

// PageInfo is per-kind pagination metadata.
type PageInfo struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPageInfo computes pagination metadata for a candidate total.
func NewPageInfo(page, pageSize, total int) PageInfo {
	totalPages := 1
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return PageInfo{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// SearchResultSet groups per-kind hits: four strongly typed slices, not a
// heterogeneous list.
type SearchResultSet struct {
	Messages    []MessageHit    `json:"messages"`
	Discussions []DiscussionHit `json:"discussions"`
	People      []PersonHit     `json:"people"`
	Topics      []TopicHit      `json:"topics"`
}

// SearchResponse is the full hybrid-search reply.
type SearchResponse struct {
	Query      string              `json:"query"`
	Results    SearchResultSet     `json:"results"`
	Counts     SearchCounts        `json:"counts"`
	Pagination map[string]PageInfo `json:"pagination"`
}
