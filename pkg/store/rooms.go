package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

// GetRoom returns one room by id, or ErrNotFound.
func (s *Store) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRow(ctx, `
		SELECT id, external_room_id, name, is_group, display_order
		FROM rooms WHERE id = $1`, id).Scan(
		&r.ID, &r.ExternalRoomID, &r.Name, &r.IsGroup, &r.DisplayOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &r, nil
}

// ListRooms returns all rooms in display order.
func (s *Store) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, external_room_id, name, is_group, display_order
		FROM rooms ORDER BY display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()
	var out []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.ExternalRoomID, &r.Name, &r.IsGroup, &r.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
