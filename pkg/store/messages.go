package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const messageColumns = `m.id, m.external_event_id, m.room_id, m.sender_id, m.content,
	m.reply_to_message_id, m.timestamp, m.message_type, m.media_url,
	p.display_name, p.avatar_url`

const messageFrom = `FROM messages m LEFT JOIN people p ON p.id = m.sender_id`

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.ExternalEventID, &m.RoomID, &m.SenderID, &m.Content,
			&m.ReplyToMessageID, &m.Timestamp, &m.MessageType, &m.MediaURL,
			&m.SenderName, &m.SenderAvatarURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EligibleMessages returns all messages in a room with non-empty content,
// ordered by (timestamp, id). This is the windowing order.
func (s *Store) EligibleMessages(ctx context.Context, roomID int64) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.room_id = $1 AND m.content IS NOT NULL AND m.content <> ''
		ORDER BY m.timestamp, m.id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible messages: %w", err)
	}
	return scanMessages(rows)
}

// EligibleMessagesAfter returns eligible messages with id strictly greater
// than afterID, in windowing order.
func (s *Store) EligibleMessagesAfter(ctx context.Context, roomID, afterID int64) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.room_id = $1 AND m.id > $2 AND m.content IS NOT NULL AND m.content <> ''
		ORDER BY m.timestamp, m.id`, roomID, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages after cutoff: %w", err)
	}
	return scanMessages(rows)
}

// ContextMessages returns up to limit eligible messages ending at (and
// including) the cutoff message, oldest first.
func (s *Store) ContextMessages(ctx context.Context, roomID, cutoffID int64, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.room_id = $1 AND m.id <= $2 AND m.content IS NOT NULL AND m.content <> ''
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT $3`, roomID, cutoffID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query context messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage returns one message by id, or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// GetMessages returns messages for an id set, ordered by (timestamp, id).
func (s *Store) GetMessages(ctx context.Context, ids []int64) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.id = ANY($1)
		ORDER BY m.timestamp, m.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by id: %w", err)
	}
	return scanMessages(rows)
}

// CountEligibleMessagesAfter counts eligible messages past a cutoff id.
func (s *Store) CountEligibleMessagesAfter(ctx context.Context, roomID, afterID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE room_id = $1 AND id > $2 AND content IS NOT NULL AND content <> ''`,
		roomID, afterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// CountEligibleMessages counts eligible messages in a room.
func (s *Store) CountEligibleMessages(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE room_id = $1 AND content IS NOT NULL AND content <> ''`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// CountEmbeddableMessages counts messages eligible for the embedding index
// (content at least 5 chars after trimming is approximated DB-side by raw
// length; final filtering happens in content preparation).
func (s *Store) CountEmbeddableMessages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE content IS NOT NULL AND length(content) >= 5`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddable messages: %w", err)
	}
	return n, nil
}

// EmbeddableMessagesAfter returns the next batch of embeddable messages in
// id order, for the bulk reindexer.
func (s *Store) EmbeddableMessagesAfter(ctx context.Context, afterID int64, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.id > $1 AND m.content IS NOT NULL AND length(m.content) >= 5
		ORDER BY m.id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddable messages: %w", err)
	}
	return scanMessages(rows)
}

// PersonMessages returns a person's messages with non-empty content in
// chronological order, up to limit.
func (s *Store) PersonMessages(ctx context.Context, personID int64, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.sender_id = $1 AND m.content IS NOT NULL AND m.content <> ''
		ORDER BY m.timestamp, m.id
		LIMIT $2`, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query person messages: %w", err)
	}
	return scanMessages(rows)
}

// MessageKeywordScores computes full-text rank scores for the candidate id
// set, normalised to [0,1] by the batch maximum.
func (s *Store) MessageKeywordScores(ctx context.Context, query string, ids []int64) (map[int64]float64, error) {
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, ts_rank(
			to_tsvector('english', coalesce(content, '')),
			plainto_tsquery('english', $1)
		) AS rank
		FROM messages
		WHERE id = ANY($2)
		AND to_tsvector('english', coalesce(content, '')) @@ plainto_tsquery('english', $1)`,
		query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query message keyword scores: %w", err)
	}
	defer rows.Close()

	raw := map[int64]float64{}
	var maxRank float64
	for rows.Next() {
		var id int64
		var rank float32
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan keyword score: %w", err)
		}
		raw[id] = float64(rank)
		if float64(rank) > maxRank {
			maxRank = float64(rank)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if maxRank == 0 {
		maxRank = 1
	}
	scores := make(map[int64]float64, len(raw))
	for id, r := range raw {
		score := r / maxRank
		if score > 1 {
			score = 1
		}
		scores[id] = score
	}
	return scores, nil
}
