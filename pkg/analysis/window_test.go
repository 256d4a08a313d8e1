package analysis

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

func makeMessages(n int) []models.Message {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]models.Message, n)
	for i := range out {
		content := fmt.Sprintf("message %d", i+1)
		out[i] = models.Message{
			ID:        int64(i + 1),
			Content:   &content,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestWindowCount(t *testing.T) {
	tests := []struct {
		n, size, overlap, want int
	}{
		{0, 300, 40, 1},
		{1, 300, 40, 1},
		{260, 300, 40, 1},
		{300, 300, 40, 2},
		{520, 300, 40, 2},
		{521, 300, 40, 3},
		{1000, 300, 40, 4},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, windowCount(tc.n, tc.size, tc.overlap),
			"n=%d size=%d overlap=%d", tc.n, tc.size, tc.overlap)
	}
}

func TestWindowStream_OverlapAndCoverage(t *testing.T) {
	messages := makeMessages(700)
	stream := newWindowStream(PhaseNew, messages, 300, 40, 1)

	win1, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, 1, win1.Index)
	assert.Len(t, win1.Messages, 300)
	assert.Equal(t, int64(1), win1.StartMessageID)
	assert.Equal(t, int64(300), win1.EndMessageID)

	win2, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, 2, win2.Index)
	assert.Equal(t, int64(261), win2.StartMessageID)
	assert.Equal(t, int64(560), win2.EndMessageID)

	win3, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, int64(521), win3.StartMessageID)
	assert.Equal(t, int64(700), win3.EndMessageID)

	_, ok = stream.Next()
	assert.False(t, ok)
}

func TestWindowStream_ShortInputIsOneWindow(t *testing.T) {
	messages := makeMessages(12)
	stream := newWindowStream(PhaseContext, messages, 300, 40, 1)

	win, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseContext, win.Phase)
	assert.Len(t, win.Messages, 12)

	_, ok = stream.Next()
	assert.False(t, ok)
}

func TestWindowStream_MinimalStepStillProgresses(t *testing.T) {
	messages := makeMessages(5)
	stream := newWindowStream(PhaseNew, messages, 2, 1, 1)

	var starts []int64
	for {
		win, ok := stream.Next()
		if !ok {
			break
		}
		starts = append(starts, win.StartMessageID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, starts)
}

func TestWindowStream_FirstIndexOffset(t *testing.T) {
	stream := newWindowStream(PhaseNew, makeMessages(10), 300, 40, 4)
	win, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, 4, win.Index)
}
