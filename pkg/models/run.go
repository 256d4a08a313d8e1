package models

import "time"

// RunStatus is the lifecycle state of a long-running job record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// AnalysisMode selects full-corpus or incremental catch-up analysis.
type AnalysisMode string

const (
	ModeFull        AnalysisMode = "full"
	ModeIncremental AnalysisMode = "incremental"

	// ModeTopics marks run records created by topic classification; they
	// share the runs table but never carry window fields.
	ModeTopics AnalysisMode = "topics"
)

// AnalysisRun is the durable record of one discussion-analysis job.
// At most one run per room may be running at a time.
type AnalysisRun struct {
	ID                    int64        `json:"id"`
	RoomID                int64        `json:"room_id"`
	StartedAt             time.Time    `json:"started_at"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	Status                RunStatus    `json:"status"`
	WindowsProcessed      int          `json:"windows_processed"`
	TotalWindows          *int         `json:"total_windows,omitempty"`
	DiscussionsFound      int          `json:"discussions_found"`
	TokensUsed            int          `json:"tokens_used"`
	Error                 *string      `json:"error,omitempty"`
	Mode                  AnalysisMode `json:"mode"`
	StartMessageID        *int64       `json:"start_message_id,omitempty"`
	EndMessageID          *int64       `json:"end_message_id,omitempty"`
	ContextStartMessageID *int64       `json:"context_start_message_id,omitempty"`
	NewMessagesCount      int          `json:"new_messages_count"`
	ContextMessagesCount  int          `json:"context_messages_count"`
}

// AnalysisResult is the terminal summary returned by the analyzer worker.
type AnalysisResult struct {
	DiscussionsFound      int
	DiscussionsExtended   int
	TotalTokens           int
	WindowsProcessed      int
	Mode                  AnalysisMode
	StartMessageID        *int64
	EndMessageID          *int64
	ContextStartMessageID *int64
	NewMessages           int
	ContextMessages       int
}

// IncrementalPreview describes what an incremental run would do.
type IncrementalPreview struct {
	IncrementalAvailable bool         `json:"incremental_available"`
	NewMessages          int          `json:"new_messages"`
	ContextMessages      int          `json:"context_messages"`
	LastAnalysis         *AnalysisRun `json:"last_analysis,omitempty"`
}

// ReindexProgress tracks one entity kind during a bulk reindex.
type ReindexProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// ReindexStatus is the process-local state of the reindex job.
type ReindexStatus struct {
	Status          RunStatus                  `json:"status"`
	Progress        map[string]ReindexProgress `json:"progress,omitempty"`
	LastCompletedAt *time.Time                 `json:"last_completed_at,omitempty"`
	Error           *string                    `json:"error,omitempty"`
}
