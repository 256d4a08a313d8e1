package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const runColumns = `id, room_id, started_at, completed_at, status,
	windows_processed, total_windows, discussions_found, tokens_used, error,
	mode, start_message_id, end_message_id, context_start_message_id,
	new_messages_count, context_messages_count`

func scanRun(row pgx.Row) (*models.AnalysisRun, error) {
	var r models.AnalysisRun
	err := row.Scan(
		&r.ID, &r.RoomID, &r.StartedAt, &r.CompletedAt, &r.Status,
		&r.WindowsProcessed, &r.TotalWindows, &r.DiscussionsFound, &r.TokensUsed, &r.Error,
		&r.Mode, &r.StartMessageID, &r.EndMessageID, &r.ContextStartMessageID,
		&r.NewMessagesCount, &r.ContextMessagesCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan analysis run: %w", err)
	}
	return &r, nil
}

// CreateRun inserts a new running analysis run and returns its id.
func (s *Store) CreateRun(ctx context.Context, roomID int64, mode models.AnalysisMode) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO analysis_runs (room_id, started_at, status, mode)
		VALUES ($1, now(), $2, $3)
		RETURNING id`, roomID, models.RunStatusRunning, mode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create analysis run: %w", err)
	}
	return id, nil
}

// GetRun returns one run by id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id int64) (*models.AnalysisRun, error) {
	return scanRun(s.db.QueryRow(ctx, `
		SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id))
}

// SetRunWindowPlan records the window count and message range before the
// first window is processed.
func (s *Store) SetRunWindowPlan(ctx context.Context, runID int64, totalWindows, newMessages, contextMessages int, startID, endID, contextStartID *int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE analysis_runs
		SET total_windows = $2, new_messages_count = $3, context_messages_count = $4,
			start_message_id = $5, end_message_id = $6, context_start_message_id = $7
		WHERE id = $1`,
		runID, totalWindows, newMessages, contextMessages, startID, endID, contextStartID)
	if err != nil {
		return fmt.Errorf("failed to record run window plan: %w", err)
	}
	return nil
}

// UpdateRunProgress bumps the per-window counters. Called after each window
// commits, which also serves as the run's liveness heartbeat.
func (s *Store) UpdateRunProgress(ctx context.Context, runID int64, windowsProcessed, discussionsFound, tokensUsed int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE analysis_runs
		SET windows_processed = $2, discussions_found = $3, tokens_used = $4, heartbeat_at = now()
		WHERE id = $1`, runID, windowsProcessed, discussionsFound, tokensUsed)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// CompleteRun marks a run completed with its final counters.
func (s *Store) CompleteRun(ctx context.Context, runID int64, result *models.AnalysisResult) error {
	_, err := s.db.Exec(ctx, `
		UPDATE analysis_runs
		SET status = $2, completed_at = now(),
			windows_processed = $3, discussions_found = $4, tokens_used = $5
		WHERE id = $1`,
		runID, models.RunStatusCompleted,
		result.WindowsProcessed, result.DiscussionsFound, result.TotalTokens)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun marks a run failed with an error message.
func (s *Store) FailRun(ctx context.Context, runID int64, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE analysis_runs
		SET status = $2, completed_at = now(), error = $3
		WHERE id = $1`, runID, models.RunStatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// MarkRunStale fails a running run that stopped making progress. Used on
// startup recovery and when a status poll finds a run without a recent
// heartbeat.
func (s *Store) MarkRunStale(ctx context.Context, runID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE analysis_runs
		SET status = $2, completed_at = now(), error = 'stale: no progress detected'
		WHERE id = $1 AND status = $3`,
		runID, models.RunStatusFailed, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark run stale: %w", err)
	}
	return nil
}

// LatestRunForRoom returns the most recently started discussion-analysis
// run for a room, or ErrNotFound. Topic runs are excluded.
func (s *Store) LatestRunForRoom(ctx context.Context, roomID int64) (*models.AnalysisRun, error) {
	return scanRun(s.db.QueryRow(ctx, `
		SELECT `+runColumns+` FROM analysis_runs
		WHERE room_id = $1 AND mode != $2
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, roomID, models.ModeTopics))
}

// LatestCompletedRunWithEnd returns the newest completed run for a room
// that recorded an end message id, or ErrNotFound. Incremental analysis
// resumes from this run's cutoff.
func (s *Store) LatestCompletedRunWithEnd(ctx context.Context, roomID int64) (*models.AnalysisRun, error) {
	return scanRun(s.db.QueryRow(ctx, `
		SELECT `+runColumns+` FROM analysis_runs
		WHERE room_id = $1 AND status = $2 AND end_message_id IS NOT NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, roomID, models.RunStatusCompleted))
}

// StaleRunningRuns returns running runs whose last heartbeat is older than
// the staleness cutoff.
func (s *Store) StaleRunningRuns(ctx context.Context, olderThan time.Duration) ([]models.AnalysisRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+runColumns+` FROM analysis_runs
		WHERE status = $1 AND heartbeat_at < now() - $2::interval`,
		models.RunStatusRunning, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale runs: %w", err)
	}
	defer rows.Close()
	var out []models.AnalysisRun
	for rows.Next() {
		var r models.AnalysisRun
		if err := rows.Scan(
			&r.ID, &r.RoomID, &r.StartedAt, &r.CompletedAt, &r.Status,
			&r.WindowsProcessed, &r.TotalWindows, &r.DiscussionsFound, &r.TokensUsed, &r.Error,
			&r.Mode, &r.StartMessageID, &r.EndMessageID, &r.ContextStartMessageID,
			&r.NewMessagesCount, &r.ContextMessagesCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
