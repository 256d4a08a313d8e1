package analysis

import "github.com/chronicle-archive/chronicle/pkg/models"

// WindowPhase distinguishes read-only context warm-up from writable windows.
type WindowPhase string

const (
	PhaseContext WindowPhase = "context"
	PhaseNew     WindowPhase = "new"
)

// Window is one overlapping slice of eligible messages in (timestamp, id)
// order.
type Window struct {
	Phase          WindowPhase
	Index          int
	Messages       []models.Message
	StartMessageID int64
	EndMessageID   int64
}

// windowCount returns how many windows a corpus of n eligible messages
// produces: consecutive windows advance by size − overlap.
func windowCount(n, size, overlap int) int {
	step := size - overlap
	if n < 1 {
		n = 1
	}
	return (n + step - 1) / step
}

// windowStream lazily yields overlapping windows over a message slice.
type windowStream struct {
	phase     WindowPhase
	messages  []models.Message
	size      int
	step      int
	start     int
	nextIndex int
}

// newWindowStream builds a stream over messages with the given window size
// and overlap. firstIndex numbers the first emitted window, letting the
// incremental new phase continue counting after the context phase.
func newWindowStream(phase WindowPhase, messages []models.Message, size, overlap, firstIndex int) *windowStream {
	return &windowStream{
		phase:     phase,
		messages:  messages,
		size:      size,
		step:      size - overlap,
		nextIndex: firstIndex,
	}
}

// Next returns the next window, or false when the stream is exhausted.
func (w *windowStream) Next() (*Window, bool) {
	if w.start >= len(w.messages) {
		return nil, false
	}
	end := w.start + w.size
	if end > len(w.messages) {
		end = len(w.messages)
	}
	slice := w.messages[w.start:end]
	win := &Window{
		Phase:          w.phase,
		Index:          w.nextIndex,
		Messages:       slice,
		StartMessageID: slice[0].ID,
		EndMessageID:   slice[len(slice)-1].ID,
	}
	w.start += w.step
	w.nextIndex++
	return win, true
}
