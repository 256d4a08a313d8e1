package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexID_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantInt bool
		wantN   int64
		wantS   string
		wantErr bool
	}{
		{name: "integer", input: `42`, wantInt: true, wantN: 42},
		{name: "numeric string", input: `"42"`, wantInt: true, wantN: 42},
		{name: "temp id", input: `"disc_1"`, wantS: "disc_1"},
		{name: "existing temp id", input: `"existing_17"`, wantS: "existing_17"},
		{name: "object rejected", input: `{"id": 1}`, wantErr: true},
		{name: "null rejected", input: `null`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var f FlexID
			err := json.Unmarshal([]byte(tc.input), &f)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantInt, f.IsInt)
			if tc.wantInt {
				assert.Equal(t, tc.wantN, f.Int)
			} else {
				assert.Equal(t, tc.wantS, f.Str)
			}
		})
	}
}

func TestWindowResponse_Decode(t *testing.T) {
	payload := `{
		"classifications": [
			{"message_id": 101, "assignments": [
				{"discussion_id": "disc_1", "title": "Free will debate", "confidence": 0.95},
				{"discussion_id": 7, "confidence": 0.6}
			]}
		],
		"discussions_ended": [7],
		"new_discussions": [{"temp_id": "disc_1", "title": "Free will debate"}]
	}`
	var resp windowResponse
	require.NoError(t, json.Unmarshal([]byte(payload), &resp))

	require.Len(t, resp.Classifications, 1)
	cls := resp.Classifications[0]
	assert.Equal(t, int64(101), cls.MessageID)
	require.Len(t, cls.Assignments, 2)
	assert.Equal(t, "disc_1", cls.Assignments[0].DiscussionID.Str)
	require.NotNil(t, cls.Assignments[0].Title)
	assert.Equal(t, "Free will debate", *cls.Assignments[0].Title)
	assert.True(t, cls.Assignments[1].DiscussionID.IsInt)
	assert.Equal(t, []int64{7}, resp.DiscussionsEnded)
	require.Len(t, resp.NewDiscussions, 1)
	assert.Equal(t, "disc_1", resp.NewDiscussions[0].TempID)
}
