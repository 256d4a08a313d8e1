package util

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// SeedRoom inserts a room and returns its id.
func SeedRoom(t *testing.T, pool *pgxpool.Pool, name string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO rooms (external_room_id, name) VALUES ($1, $2) RETURNING id`,
		fmt.Sprintf("!%s:example.org", name), name).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedPerson inserts a person and returns its id.
func SeedPerson(t *testing.T, pool *pgxpool.Pool, displayName string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO people (external_user_id, display_name) VALUES ($1, $2) RETURNING id`,
		fmt.Sprintf("@%s:example.org", displayName), displayName).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedMessage inserts a text message and returns its id.
func SeedMessage(t *testing.T, pool *pgxpool.Pool, roomID, senderID int64, content string, ts time.Time) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO messages (external_event_id, room_id, sender_id, content, timestamp)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		fmt.Sprintf("$%d-%s", ts.UnixNano(), content[:min(8, len(content))]),
		roomID, senderID, content, ts).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedMessages inserts n messages one minute apart starting at start and
// returns their ids in order.
func SeedMessages(t *testing.T, pool *pgxpool.Pool, roomID, senderID int64, n int, start time.Time) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = SeedMessage(t, pool, roomID, senderID,
			fmt.Sprintf("message number %d with enough content", i),
			start.Add(time.Duration(i)*time.Minute))
	}
	return ids
}
