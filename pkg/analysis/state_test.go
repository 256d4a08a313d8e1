package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

func newTracked(s *state, id int64, tempID string) *activeDiscussion {
	d := &activeDiscussion{
		ID:               id,
		Title:            "tracked",
		TempID:           tempID,
		MessageIDs:       map[int64]struct{}{},
		LastActiveWindow: s.currentWindow,
	}
	s.track(d)
	return d
}

func TestState_ResolveByIDAndTempID(t *testing.T) {
	s := newState(5)
	s.currentWindow = 1
	d := newTracked(s, 42, "disc_1")

	assert.Same(t, d, s.resolve(FlexID{IsInt: true, Int: 42}))
	assert.Same(t, d, s.resolve(FlexID{Str: "disc_1"}))
	assert.Nil(t, s.resolve(FlexID{IsInt: true, Int: 99}))
	assert.Nil(t, s.resolve(FlexID{Str: "disc_9"}))
}

func TestState_DormancyAtThreshold(t *testing.T) {
	s := newState(5)
	s.currentWindow = 1
	d := newTracked(s, 1, "disc_1")

	for w := 2; w <= 5; w++ {
		s.currentWindow = w
		assert.Empty(t, s.applyDormancy(), "window %d", w)
		assert.False(t, d.Dormant)
	}

	// Five full windows of silence marks the discussion dormant.
	s.currentWindow = 6
	marked := s.applyDormancy()
	require.Equal(t, []int64{1}, marked)
	assert.True(t, d.Dormant)

	// Dormant discussions leave the prompt roster.
	assert.Empty(t, s.promptable())
}

func TestState_RevivalClearsDormancy(t *testing.T) {
	s := newState(5)
	s.currentWindow = 1
	d := newTracked(s, 1, "disc_1")

	s.currentWindow = 6
	s.applyDormancy()
	require.True(t, d.Dormant)

	s.currentWindow = 7
	s.markActive(d)
	assert.False(t, d.Dormant)
	assert.Equal(t, 7, d.LastActiveWindow)
	assert.Len(t, s.promptable(), 1)
}

func TestState_EndedDiscussionsNotPromptable(t *testing.T) {
	s := newState(5)
	s.currentWindow = 1
	d := newTracked(s, 1, "disc_1")
	d.Ended = true
	assert.Empty(t, s.promptable())
}

func TestActiveDiscussion_ParticipantWindow(t *testing.T) {
	d := &activeDiscussion{MessageIDs: map[int64]struct{}{}}
	for _, name := range []string{"Ana", "Ben", "Cho", "Dee", "Eli", "Fra"} {
		d.addParticipant(name)
	}
	assert.Equal(t, []string{"Ben", "Cho", "Dee", "Eli", "Fra"}, d.RecentParticipant)

	// A returning speaker does not duplicate.
	d.addParticipant("Cho")
	assert.Equal(t, []string{"Ben", "Cho", "Dee", "Eli", "Fra"}, d.RecentParticipant)
}

func TestState_RestoreDiscussion(t *testing.T) {
	s := newState(5)
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.restoreDiscussion(models.Discussion{
		ID:        7,
		Title:     "restored",
		StartedAt: started,
		EndedAt:   started.Add(time.Hour),
	}, []int64{10, 11, 12}, []string{"Ana", "Ben"})

	d := s.discussions[7]
	require.NotNil(t, d)
	assert.Equal(t, "existing_7", d.TempID)
	assert.Same(t, d, s.resolve(FlexID{Str: "existing_7"}))
	assert.Len(t, d.MessageIDs, 3)
	assert.Equal(t, []string{"Ana", "Ben"}, d.RecentParticipant)
}
