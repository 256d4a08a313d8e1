package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const topicColumns = `id, room_id, name, description, color`

func collectTopics(rows pgx.Rows) ([]models.Topic, error) {
	defer rows.Close()
	var out []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.RoomID, &t.Name, &t.Description, &t.Color); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTopic returns one topic by id, or ErrNotFound.
func (s *Store) GetTopic(ctx context.Context, id int64) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRow(ctx, `
		SELECT `+topicColumns+` FROM topics WHERE id = $1`, id).Scan(
		&t.ID, &t.RoomID, &t.Name, &t.Description, &t.Color)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query topic: %w", err)
	}
	return &t, nil
}

// GetTopics returns topics for an id set.
func (s *Store) GetTopics(ctx context.Context, ids []int64) ([]models.Topic, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+topicColumns+` FROM topics WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics by id: %w", err)
	}
	return collectTopics(rows)
}

// ListRoomTopics returns a room's topics ordered by name.
func (s *Store) ListRoomTopics(ctx context.Context, roomID int64) ([]models.Topic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+topicColumns+` FROM topics
		WHERE room_id = $1
		ORDER BY lower(name)`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query room topics: %w", err)
	}
	return collectTopics(rows)
}

// UpsertTopic inserts a topic or, when a topic with the same name already
// exists in the room (case-insensitive), refreshes its description and
// returns the existing row.
func (s *Store) UpsertTopic(ctx context.Context, t *models.Topic) (*models.Topic, error) {
	var out models.Topic
	err := s.db.QueryRow(ctx, `
		INSERT INTO topics (room_id, name, description, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, lower(name)) DO UPDATE
		SET description = EXCLUDED.description
		RETURNING `+topicColumns, t.RoomID, t.Name, t.Description, t.Color).Scan(
		&out.ID, &out.RoomID, &out.Name, &out.Description, &out.Color)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert topic: %w", err)
	}
	return &out, nil
}

// LinkDiscussionTopic attaches a topic to a discussion. Idempotent.
func (s *Store) LinkDiscussionTopic(ctx context.Context, discussionID, topicID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO discussion_topics (discussion_id, topic_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, discussionID, topicID)
	if err != nil {
		return fmt.Errorf("failed to link discussion topic: %w", err)
	}
	return nil
}

// ClearRoomTopicLinks detaches all topics from a room's discussions ahead
// of reclassification.
func (s *Store) ClearRoomTopicLinks(ctx context.Context, roomID int64) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM discussion_topics
		WHERE discussion_id IN (SELECT id FROM discussions WHERE room_id = $1)`, roomID)
	if err != nil {
		return fmt.Errorf("failed to clear room topic links: %w", err)
	}
	return nil
}

// DeleteOrphanTopics removes a room's topics no discussion references,
// along with their embeddings.
func (s *Store) DeleteOrphanTopics(ctx context.Context, roomID int64) error {
	if _, err := s.db.Exec(ctx, `
		DELETE FROM embeddings
		WHERE entity_type = 'topic'
		AND entity_id IN (
			SELECT t.id FROM topics t
			WHERE t.room_id = $1
			AND NOT EXISTS (SELECT 1 FROM discussion_topics dt WHERE dt.topic_id = t.id)
		)`, roomID); err != nil {
		return fmt.Errorf("failed to delete orphan topic embeddings: %w", err)
	}
	_, err := s.db.Exec(ctx, `
		DELETE FROM topics t
		WHERE t.room_id = $1
		AND NOT EXISTS (SELECT 1 FROM discussion_topics dt WHERE dt.topic_id = t.id)`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete orphan topics: %w", err)
	}
	return nil
}

// DiscussionTopics returns the topics attached to a discussion.
func (s *Store) DiscussionTopics(ctx context.Context, discussionID int64) ([]models.Topic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.room_id, t.name, t.description, t.color
		FROM discussion_topics dt
		JOIN topics t ON t.id = dt.topic_id
		WHERE dt.discussion_id = $1
		ORDER BY lower(t.name)`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discussion topics: %w", err)
	}
	return collectTopics(rows)
}

// TopicDiscussionCount counts discussions attached to a topic.
func (s *Store) TopicDiscussionCount(ctx context.Context, topicID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM discussion_topics WHERE topic_id = $1`, topicID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count topic discussions: %w", err)
	}
	return n, nil
}

// CountTopics counts all topic rows.
func (s *Store) CountTopics(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM topics`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count topics: %w", err)
	}
	return n, nil
}

// TopicsAfter returns the next id-ordered batch for the reindexer.
func (s *Store) TopicsAfter(ctx context.Context, afterID int64, limit int) ([]models.Topic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+topicColumns+` FROM topics
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics batch: %w", err)
	}
	return collectTopics(rows)
}

// TopicKeywordScores scores topics against a substring query. Name matches
// score 1.0, description matches 0.7.
func (s *Store) TopicKeywordScores(ctx context.Context, query string, ids []int64) (map[int64]float64, error) {
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id,
			CASE
				WHEN name ILIKE '%' || $1 || '%' THEN 1.0
				WHEN description ILIKE '%' || $1 || '%' THEN 0.7
				ELSE 0
			END AS score
		FROM topics
		WHERE id = ANY($2)`, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic keyword scores: %w", err)
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
