package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const personColumns = `id, external_user_id, display_name, avatar_url,
	external_profile_url, external_name, notes,
	ai_summary, ai_summary_generated_at, ai_summary_message_count`

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	err := row.Scan(
		&p.ID, &p.ExternalUserID, &p.DisplayName, &p.AvatarURL,
		&p.ExternalProfileURL, &p.ExternalName, &p.Notes,
		&p.AISummary, &p.AISummaryGeneratedAt, &p.AISummaryMessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan person: %w", err)
	}
	return &p, nil
}

// GetPerson returns one person by id, or ErrNotFound.
func (s *Store) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	return scanPerson(s.db.QueryRow(ctx, `
		SELECT `+personColumns+` FROM people WHERE id = $1`, id))
}

// GetPeople returns people for an id set, unordered.
func (s *Store) GetPeople(ctx context.Context, ids []int64) ([]models.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+personColumns+` FROM people WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query people: %w", err)
	}
	defer rows.Close()
	var out []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(
			&p.ID, &p.ExternalUserID, &p.DisplayName, &p.AvatarURL,
			&p.ExternalProfileURL, &p.ExternalName, &p.Notes,
			&p.AISummary, &p.AISummaryGeneratedAt, &p.AISummaryMessageCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PeopleAfter returns the next id-ordered batch of people for the reindexer.
func (s *Store) PeopleAfter(ctx context.Context, afterID int64, limit int) ([]models.Person, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query people batch: %w", err)
	}
	defer rows.Close()
	var out []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(
			&p.ID, &p.ExternalUserID, &p.DisplayName, &p.AvatarURL,
			&p.ExternalProfileURL, &p.ExternalName, &p.Notes,
			&p.AISummary, &p.AISummaryGeneratedAt, &p.AISummaryMessageCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPeople counts all people rows.
func (s *Store) CountPeople(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM people`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count people: %w", err)
	}
	return n, nil
}

// CountPersonMessages counts a person's archived messages with content.
func (s *Store) CountPersonMessages(ctx context.Context, personID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE sender_id = $1 AND content IS NOT NULL AND content <> ''`,
		personID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count person messages: %w", err)
	}
	return n, nil
}

// UpdatePersonAISummary stores a freshly generated profile summary with the
// message count it was computed over.
func (s *Store) UpdatePersonAISummary(ctx context.Context, personID int64, summary string, messageCount int, generatedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE people
		SET ai_summary = $2, ai_summary_generated_at = $3, ai_summary_message_count = $4
		WHERE id = $1`, personID, summary, generatedAt, messageCount)
	if err != nil {
		return fmt.Errorf("failed to update person summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PersonKeywordScores scores people against a substring query. Display name
// matches score 1.0, summary matches 0.7.
func (s *Store) PersonKeywordScores(ctx context.Context, query string, ids []int64) (map[int64]float64, error) {
	if len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id,
			CASE
				WHEN display_name ILIKE '%' || $1 || '%' THEN 1.0
				WHEN ai_summary ILIKE '%' || $1 || '%' THEN 0.7
				ELSE 0
			END AS score
		FROM people
		WHERE id = ANY($2)`, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query person keyword scores: %w", err)
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
