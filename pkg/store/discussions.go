package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const discussionColumns = `id, room_id, analysis_run_id, title, summary,
	started_at, ended_at, message_count, participant_count`

func scanDiscussion(row pgx.Row) (*models.Discussion, error) {
	var d models.Discussion
	err := row.Scan(
		&d.ID, &d.RoomID, &d.AnalysisRunID, &d.Title, &d.Summary,
		&d.StartedAt, &d.EndedAt, &d.MessageCount, &d.ParticipantCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan discussion: %w", err)
	}
	return &d, nil
}

func collectDiscussions(rows pgx.Rows) ([]models.Discussion, error) {
	defer rows.Close()
	var out []models.Discussion
	for rows.Next() {
		var d models.Discussion
		if err := rows.Scan(
			&d.ID, &d.RoomID, &d.AnalysisRunID, &d.Title, &d.Summary,
			&d.StartedAt, &d.EndedAt, &d.MessageCount, &d.ParticipantCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan discussion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDiscussion inserts a new discussion and returns its id.
func (s *Store) CreateDiscussion(ctx context.Context, d *models.Discussion) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO discussions (room_id, analysis_run_id, title, summary, started_at, ended_at, message_count, participant_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		d.RoomID, d.AnalysisRunID, d.Title, d.Summary,
		d.StartedAt, d.EndedAt, d.MessageCount, d.ParticipantCount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create discussion: %w", err)
	}
	return id, nil
}

// AppendDiscussionMessage links a message to a discussion and bumps the
// discussion's message count. Idempotent on (discussion_id, message_id):
// the first assignment wins and repeats are no-ops with inserted false. A
// message may carry edges to several discussions.
func (s *Store) AppendDiscussionMessage(ctx context.Context, discussionID, messageID int64, confidence float64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO discussion_messages (discussion_id, message_id, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (discussion_id, message_id) DO NOTHING`,
		discussionID, messageID, confidence)
	if err != nil {
		return false, fmt.Errorf("failed to link message to discussion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE discussions SET message_count = message_count + 1 WHERE id = $1`,
		discussionID); err != nil {
		return false, fmt.Errorf("failed to bump discussion message count: %w", err)
	}
	return true, nil
}

// ExtendDiscussionBounds widens a discussion's time range to include ts.
func (s *Store) ExtendDiscussionBounds(ctx context.Context, discussionID int64, ts time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE discussions
		SET started_at = LEAST(started_at, $2), ended_at = GREATEST(ended_at, $2)
		WHERE id = $1`, discussionID, ts)
	if err != nil {
		return fmt.Errorf("failed to extend discussion bounds: %w", err)
	}
	return nil
}

// SetDiscussionSummary stores a generated summary.
func (s *Store) SetDiscussionSummary(ctx context.Context, discussionID int64, summary string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE discussions SET summary = $2 WHERE id = $1`, discussionID, summary)
	if err != nil {
		return fmt.Errorf("failed to set discussion summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDiscussion returns one discussion by id, or ErrNotFound.
func (s *Store) GetDiscussion(ctx context.Context, id int64) (*models.Discussion, error) {
	return scanDiscussion(s.db.QueryRow(ctx, `
		SELECT `+discussionColumns+` FROM discussions WHERE id = $1`, id))
}

// GetDiscussions returns discussions for an id set, newest first.
func (s *Store) GetDiscussions(ctx context.Context, ids []int64) ([]models.Discussion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE id = ANY($1)
		ORDER BY ended_at DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussions by id: %w", err)
	}
	return collectDiscussions(rows)
}

// ListRoomDiscussions returns a page of a room's discussions, newest first,
// with the total count.
func (s *Store) ListRoomDiscussions(ctx context.Context, roomID int64, offset, limit int) ([]models.Discussion, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM discussions WHERE room_id = $1`, roomID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count discussions: %w", err)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE room_id = $1
		ORDER BY ended_at DESC, id DESC
		OFFSET $2 LIMIT $3`, roomID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query room discussions: %w", err)
	}
	list, err := collectDiscussions(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// DiscussionMessageIDs returns the ids of a discussion's messages in
// chronological order.
func (s *Store) DiscussionMessageIDs(ctx context.Context, discussionID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT dm.message_id
		FROM discussion_messages dm
		JOIN messages m ON m.id = dm.message_id
		WHERE dm.discussion_id = $1
		ORDER BY m.timestamp, m.id`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussion message ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DiscussionMessageConfidences returns message_id -> assignment confidence
// for one discussion.
func (s *Store) DiscussionMessageConfidences(ctx context.Context, discussionID int64) (map[int64]float64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT message_id, confidence FROM discussion_messages
		WHERE discussion_id = $1`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussion confidences: %w", err)
	}
	defer rows.Close()
	out := map[int64]float64{}
	for rows.Next() {
		var id int64
		var c float64
		if err := rows.Scan(&id, &c); err != nil {
			return nil, fmt.Errorf("failed to scan confidence: %w", err)
		}
		out[id] = c
	}
	return out, rows.Err()
}

// ActiveDiscussionsNear returns a room's discussions whose activity ended
// within the grace interval before cutoff, newest last. These are the
// candidates an incremental run may continue.
func (s *Store) ActiveDiscussionsNear(ctx context.Context, roomID int64, cutoff time.Time, grace time.Duration) ([]models.Discussion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE room_id = $1 AND ended_at >= $2
		ORDER BY ended_at`, roomID, cutoff.Add(-grace))
	if err != nil {
		return nil, fmt.Errorf("failed to query active discussions: %w", err)
	}
	return collectDiscussions(rows)
}

// RecentParticipants returns display names of the senders of a discussion's
// most recent messages, most recent sender first, capped at limit.
func (s *Store) RecentParticipants(ctx context.Context, discussionID int64, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT coalesce(p.display_name, 'Unknown')
		FROM discussion_messages dm
		JOIN messages m ON m.id = dm.message_id
		JOIN people p ON p.id = m.sender_id
		WHERE dm.discussion_id = $1
		GROUP BY p.id
		ORDER BY max(m.timestamp) DESC
		LIMIT $2`, discussionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent participants: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RecomputeParticipantCounts refreshes participant_count for every
// discussion in a room from the linked messages' distinct senders.
func (s *Store) RecomputeParticipantCounts(ctx context.Context, roomID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE discussions d
		SET participant_count = sub.n
		FROM (
			SELECT dm.discussion_id, count(DISTINCT m.sender_id) AS n
			FROM discussion_messages dm
			JOIN messages m ON m.id = dm.message_id
			WHERE m.sender_id IS NOT NULL
			GROUP BY dm.discussion_id
		) sub
		WHERE d.id = sub.discussion_id AND d.room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to recompute participant counts: %w", err)
	}
	return nil
}

// DeleteRoomAnalysis removes a room's discussions, their topic links, and
// orphaned topics, ahead of a full re-analysis. Analysis run rows are kept
// as history.
func (s *Store) DeleteRoomAnalysis(ctx context.Context, roomID int64) error {
	if _, err := s.db.Exec(ctx, `
		DELETE FROM discussion_topics
		WHERE discussion_id IN (SELECT id FROM discussions WHERE room_id = $1)`, roomID); err != nil {
		return fmt.Errorf("failed to delete discussion topic links: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM discussion_messages
		WHERE discussion_id IN (SELECT id FROM discussions WHERE room_id = $1)`, roomID); err != nil {
		return fmt.Errorf("failed to delete discussion message links: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM embeddings
		WHERE entity_type = 'discussion'
		AND entity_id IN (SELECT id FROM discussions WHERE room_id = $1)`, roomID); err != nil {
		return fmt.Errorf("failed to delete discussion embeddings: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM discussions WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete discussions: %w", err)
	}
	if err := s.DeleteOrphanTopics(ctx, roomID); err != nil {
		return err
	}
	return nil
}

// DiscussionKeywordScores scores discussions against a substring query.
// Title matches score 1.0, summary matches 0.7; a participant display name
// match contributes 0.8 and the maximum wins.
func (s *Store) DiscussionKeywordScores(ctx context.Context, query string, ids []int64) (map[int64]float64, error) {
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT d.id, GREATEST(
			CASE
				WHEN d.title ILIKE '%' || $1 || '%' THEN 1.0
				WHEN d.summary ILIKE '%' || $1 || '%' THEN 0.7
				ELSE 0
			END,
			CASE WHEN EXISTS (
				SELECT 1 FROM discussion_messages dm
				JOIN messages m ON m.id = dm.message_id
				JOIN people p ON p.id = m.sender_id
				WHERE dm.discussion_id = d.id
				AND p.display_name ILIKE '%' || $1 || '%'
			) THEN 0.8 ELSE 0 END
		) AS score
		FROM discussions d
		WHERE d.id = ANY($2)`, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussion keyword scores: %w", err)
	}
	defer rows.Close()
	scores := map[int64]float64{}
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan keyword score: %w", err)
		}
		if score > 0 {
			scores[id] = score
		}
	}
	return scores, rows.Err()
}

// DiscussionsByParticipant returns ids of every discussion a person spoke
// in, newest first. Used for the person fallback in search.
func (s *Store) DiscussionsByParticipant(ctx context.Context, personID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT d.id
		FROM discussions d
		WHERE EXISTS (
			SELECT 1 FROM discussion_messages dm
			JOIN messages m ON m.id = dm.message_id
			WHERE dm.discussion_id = d.id AND m.sender_id = $1
		)
		ORDER BY d.ended_at DESC`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussions by participant: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan discussion id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountDiscussions counts all discussion rows.
func (s *Store) CountDiscussions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM discussions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count discussions: %w", err)
	}
	return n, nil
}

// DiscussionsAfter returns the next id-ordered batch for the reindexer.
func (s *Store) DiscussionsAfter(ctx context.Context, afterID int64, limit int) ([]models.Discussion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+discussionColumns+` FROM discussions
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussions batch: %w", err)
	}
	return collectDiscussions(rows)
}

// DiscussionParticipantNames returns distinct participant display names for
// a discussion, for embedding content and detail views.
func (s *Store) DiscussionParticipantNames(ctx context.Context, discussionID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT coalesce(p.display_name, 'Unknown')
		FROM discussion_messages dm
		JOIN messages m ON m.id = dm.message_id
		JOIN people p ON p.id = m.sender_id
		WHERE dm.discussion_id = $1
		ORDER BY 1`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participant names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan participant name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
