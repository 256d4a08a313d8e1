package analysis

import (
	"fmt"
	"time"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const recentParticipants = 5

// activeDiscussion tracks one discussion across windows during a run.
type activeDiscussion struct {
	ID                int64
	Title             string
	TempID            string
	MessageIDs        map[int64]struct{}
	StartedAt         time.Time
	EndedAt           time.Time
	Ended             bool
	LastActiveWindow  int
	Dormant           bool
	TopicKeywords     []string
	RecentParticipant []string
}

// state is the in-memory model the analyzer maintains across windows. It is
// owned exclusively by the run's worker; nothing else reads it.
type state struct {
	discussions   map[int64]*activeDiscussion
	tempIDToID    map[string]int64
	totalTokens   int
	windowsDone   int
	currentWindow int
	dormancy      int
}

func newState(dormancyThreshold int) *state {
	return &state{
		discussions: map[int64]*activeDiscussion{},
		tempIDToID:  map[string]int64{},
		dormancy:    dormancyThreshold,
	}
}

// track registers a discussion under its temp id.
func (s *state) track(d *activeDiscussion) {
	s.discussions[d.ID] = d
	s.tempIDToID[d.TempID] = d.ID
}

// resolve maps a model-emitted discussion id (durable integer or temp
// string) to a tracked discussion. Returns nil when unknown.
func (s *state) resolve(flexID FlexID) *activeDiscussion {
	if flexID.IsInt {
		return s.discussions[flexID.Int]
	}
	if id, ok := s.tempIDToID[flexID.Str]; ok {
		return s.discussions[id]
	}
	return nil
}

// markActive records window activity for a discussion, reviving it if
// dormant.
func (s *state) markActive(d *activeDiscussion) {
	d.LastActiveWindow = s.currentWindow
	d.Dormant = false
}

// applyDormancy marks discussions dormant after enough inactive windows.
// Returns the ids newly marked, for logging.
func (s *state) applyDormancy() []int64 {
	var marked []int64
	for id, d := range s.discussions {
		if d.Ended || d.Dormant {
			continue
		}
		if s.currentWindow-d.LastActiveWindow >= s.dormancy {
			d.Dormant = true
			marked = append(marked, id)
		}
	}
	return marked
}

// addParticipant appends a sender to the discussion's recent-participant
// list, keeping the newest entries up to the cap.
func (d *activeDiscussion) addParticipant(name string) {
	if name == "" {
		return
	}
	for _, p := range d.RecentParticipant {
		if p == name {
			return
		}
	}
	d.RecentParticipant = append(d.RecentParticipant, name)
	if len(d.RecentParticipant) > recentParticipants {
		d.RecentParticipant = d.RecentParticipant[len(d.RecentParticipant)-recentParticipants:]
	}
}

// windowsSinceActive is how many windows have passed since the discussion
// last received a message.
func (s *state) windowsSinceActive(d *activeDiscussion) int {
	return s.currentWindow - d.LastActiveWindow
}

// promptable returns discussions eligible for the prompt's active list.
func (s *state) promptable() []*activeDiscussion {
	var out []*activeDiscussion
	for _, d := range s.discussions {
		if !d.Ended && !d.Dormant {
			out = append(out, d)
		}
	}
	return out
}

// existingTempID is the synthetic temp id given to discussions restored
// from the archive during incremental catch-up.
func existingTempID(id int64) string {
	return fmt.Sprintf("existing_%d", id)
}

// restoreDiscussion rebuilds tracking state for a durable discussion at the
// start of an incremental run.
func (s *state) restoreDiscussion(d models.Discussion, messageIDs []int64, participants []string) {
	ids := make(map[int64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	if len(participants) > recentParticipants {
		participants = participants[:recentParticipants]
	}
	s.track(&activeDiscussion{
		ID:                d.ID,
		Title:             d.Title,
		TempID:            existingTempID(d.ID),
		MessageIDs:        ids,
		StartedAt:         d.StartedAt,
		EndedAt:           d.EndedAt,
		TopicKeywords:     topicKeywords(d.Title, ""),
		RecentParticipant: participants,
	})
}
