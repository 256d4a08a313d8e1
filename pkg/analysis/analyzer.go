// Package analysis implements the sliding-window discussion analyzer and
// the whole-corpus topic classifier.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

const (
	// activeGrace is how far back from the incremental cutoff a discussion's
	// ended_at may lie and still be considered potentially active.
	activeGrace = 48 * time.Hour

	// maxTransientFailures aborts the run after this many consecutive
	// windows failing with upstream I/O errors.
	maxTransientFailures = 3

	classifyMaxTokens = 32768
	summaryMaxTokens  = 256
)

// Analyzer runs one discussion-analysis job for one room. It is owned by a
// single worker goroutine for the duration of the run.
type Analyzer struct {
	store  *store.Store
	model  gateway.Client
	cfg    *config.Config
	logger *slog.Logger
	runID  int64
	roomID int64

	state   *state
	touched map[int64]bool
	created map[int64]bool

	transientStreak int
}

// NewAnalyzer builds an analyzer bound to one run record.
func NewAnalyzer(st *store.Store, model gateway.Client, cfg *config.Config, logger *slog.Logger, runID, roomID int64) *Analyzer {
	return &Analyzer{
		store:   st,
		model:   model,
		cfg:     cfg,
		logger:  logger.With("component", "analyzer", "run_id", runID, "room_id", roomID),
		runID:   runID,
		roomID:  roomID,
		state:   newState(cfg.DormancyThreshold),
		touched: map[int64]bool{},
		created: map[int64]bool{},
	}
}

// TouchedDiscussions returns the ids of discussions created or extended by
// the completed run, for post-run embedding.
func (a *Analyzer) TouchedDiscussions() []int64 {
	ids := make([]int64, 0, len(a.touched))
	for id := range a.touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Run executes the analysis in the requested mode and returns the terminal
// summary. Incremental mode falls back to full when no completed run
// anchors a cutoff.
func (a *Analyzer) Run(ctx context.Context, mode models.AnalysisMode) (*models.AnalysisResult, error) {
	if mode == models.ModeIncremental {
		return a.runIncremental(ctx)
	}
	return a.runFull(ctx)
}

func (a *Analyzer) runFull(ctx context.Context) (*models.AnalysisResult, error) {
	// Full analysis replaces the room's previous results.
	if err := a.store.WithTx(ctx, func(tx *store.Store) error {
		return tx.DeleteRoomAnalysis(ctx, a.roomID)
	}); err != nil {
		return nil, err
	}

	messages, err := a.store.EligibleMessages(ctx, a.roomID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return &models.AnalysisResult{Mode: models.ModeFull}, nil
	}

	totalWindows := windowCount(len(messages), a.cfg.WindowSize, a.cfg.WindowOverlap)
	startID := messages[0].ID
	endID := messages[len(messages)-1].ID
	if err := a.store.SetRunWindowPlan(ctx, a.runID, totalWindows, len(messages), 0, &startID, &endID, nil); err != nil {
		return nil, err
	}
	a.logger.Info("starting full analysis", "messages", len(messages), "windows", totalWindows)

	stream := newWindowStream(PhaseNew, messages, a.cfg.WindowSize, a.cfg.WindowOverlap, 1)
	if err := a.processStream(ctx, stream); err != nil {
		return nil, err
	}

	if err := a.finishRun(ctx); err != nil {
		return nil, err
	}

	return &models.AnalysisResult{
		DiscussionsFound: len(a.state.discussions),
		TotalTokens:      a.state.totalTokens,
		WindowsProcessed: a.state.windowsDone,
		Mode:             models.ModeFull,
		StartMessageID:   &startID,
		EndMessageID:     &endID,
		NewMessages:      len(messages),
	}, nil
}

func (a *Analyzer) runIncremental(ctx context.Context) (*models.AnalysisResult, error) {
	lastRun, err := a.store.LatestCompletedRunWithEnd(ctx, a.roomID)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Info("no completed run to resume from, falling back to full analysis")
		return a.runFull(ctx)
	}
	if err != nil {
		return nil, err
	}
	cutoffID := *lastRun.EndMessageID

	cutoffMsg, err := a.store.GetMessage(ctx, cutoffID)
	if err != nil {
		return nil, fmt.Errorf("cutoff message %d: %w", cutoffID, err)
	}

	contextMessages, err := a.store.ContextMessages(ctx, a.roomID, cutoffID, a.cfg.ContextWindows*a.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	var contextStartID *int64
	if len(contextMessages) > 0 {
		contextStartID = &contextMessages[0].ID
	}

	if err := a.restoreState(ctx, cutoffMsg.Timestamp); err != nil {
		return nil, err
	}

	newMessages, err := a.store.EligibleMessagesAfter(ctx, a.roomID, cutoffID)
	if err != nil {
		return nil, err
	}
	if len(newMessages) == 0 {
		a.logger.Info("no new messages since last run")
		return &models.AnalysisResult{
			Mode:                  models.ModeIncremental,
			ContextMessages:       len(contextMessages),
			ContextStartMessageID: contextStartID,
			EndMessageID:          &cutoffID,
		}, nil
	}

	contextWindows := 0
	if len(contextMessages) > 0 {
		contextWindows = windowCount(len(contextMessages), a.cfg.WindowSize, a.cfg.WindowOverlap)
	}
	newWindows := windowCount(len(newMessages), a.cfg.WindowSize, a.cfg.WindowOverlap)
	totalWindows := contextWindows + newWindows

	startID := newMessages[0].ID
	endID := newMessages[len(newMessages)-1].ID
	if err := a.store.SetRunWindowPlan(ctx, a.runID, totalWindows,
		len(newMessages), len(contextMessages), &startID, &endID, contextStartID); err != nil {
		return nil, err
	}
	a.logger.Info("starting incremental analysis",
		"context_messages", len(contextMessages), "new_messages", len(newMessages),
		"restored_discussions", len(a.state.discussions))

	preExisting := map[int64]bool{}
	for id := range a.state.discussions {
		preExisting[id] = true
	}

	// Phase 1: warm up state on context windows without writing.
	if err := a.processStreamReadonly(ctx, newWindowStream(PhaseContext, contextMessages, a.cfg.WindowSize, a.cfg.WindowOverlap, 1)); err != nil {
		return nil, err
	}

	// Phase 2: new windows behave exactly like full-mode windows.
	if err := a.processStream(ctx, newWindowStream(PhaseNew, newMessages, a.cfg.WindowSize, a.cfg.WindowOverlap, a.state.currentWindow+1)); err != nil {
		return nil, err
	}

	if err := a.finishRun(ctx); err != nil {
		return nil, err
	}

	found, extended := 0, 0
	for id := range a.touched {
		if preExisting[id] {
			extended++
		}
	}
	for id := range a.created {
		if !preExisting[id] {
			found++
		}
	}

	return &models.AnalysisResult{
		DiscussionsFound:      found,
		DiscussionsExtended:   extended,
		TotalTokens:           a.state.totalTokens,
		WindowsProcessed:      a.state.windowsDone,
		Mode:                  models.ModeIncremental,
		StartMessageID:        &startID,
		EndMessageID:          &endID,
		ContextStartMessageID: contextStartID,
		NewMessages:           len(newMessages),
		ContextMessages:       len(contextMessages),
	}, nil
}

// restoreState rebuilds the in-memory discussion state from the archive for
// an incremental run.
func (a *Analyzer) restoreState(ctx context.Context, cutoff time.Time) error {
	discussions, err := a.store.ActiveDiscussionsNear(ctx, a.roomID, cutoff, activeGrace)
	if err != nil {
		return err
	}
	for _, d := range discussions {
		msgIDs, err := a.store.DiscussionMessageIDs(ctx, d.ID)
		if err != nil {
			return err
		}
		participants, err := a.store.RecentParticipants(ctx, d.ID, recentParticipants)
		if err != nil {
			return err
		}
		a.state.restoreDiscussion(d, msgIDs, participants)
	}
	return nil
}

// processStream drives writable windows: classify, then apply the response
// in one transaction per window.
func (a *Analyzer) processStream(ctx context.Context, stream *windowStream) error {
	for {
		win, ok := stream.Next()
		if !ok {
			return nil
		}
		a.state.currentWindow = win.Index

		resp, err := a.classifyWindow(ctx, win)
		if err != nil {
			if abortErr := a.handleWindowError(win, err); abortErr != nil {
				return abortErr
			}
		} else {
			a.transientStreak = 0
			if err := a.store.WithTx(ctx, func(tx *store.Store) error {
				return a.applyResponse(ctx, tx, resp, win)
			}); err != nil {
				return fmt.Errorf("window %d: %w", win.Index, err)
			}
		}

		a.state.windowsDone++
		if err := a.store.UpdateRunProgress(ctx, a.runID, a.state.windowsDone, len(a.state.discussions), a.state.totalTokens); err != nil {
			return err
		}
	}
}

// processStreamReadonly drives context windows: classify and track activity
// and dormancy, but never write.
func (a *Analyzer) processStreamReadonly(ctx context.Context, stream *windowStream) error {
	for {
		win, ok := stream.Next()
		if !ok {
			return nil
		}
		a.state.currentWindow = win.Index

		resp, err := a.classifyWindow(ctx, win)
		if err != nil {
			if abortErr := a.handleWindowError(win, err); abortErr != nil {
				return abortErr
			}
		} else {
			a.transientStreak = 0
			a.applyResponseReadonly(resp)
		}

		a.state.windowsDone++
		if err := a.store.UpdateRunProgress(ctx, a.runID, a.state.windowsDone, len(a.state.discussions), a.state.totalTokens); err != nil {
			return err
		}
	}
}

// handleWindowError decides whether a window failure skips or aborts.
func (a *Analyzer) handleWindowError(win *Window, err error) error {
	var rl *gateway.RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Errorf("window %d: %w", win.Index, err)
	}
	var bad *gateway.BadModelOutputError
	var loop *gateway.ToolLoopExhaustedError
	if errors.As(err, &bad) || errors.As(err, &loop) {
		a.logger.Warn("skipping window after unusable model output", "window", win.Index, "error", err)
		return nil
	}
	if gateway.IsTransient(err) {
		a.transientStreak++
		a.logger.Warn("skipping window after transient failure",
			"window", win.Index, "consecutive", a.transientStreak, "error", err)
		if a.transientStreak >= maxTransientFailures {
			return fmt.Errorf("aborting after %d consecutive transient failures: %w", a.transientStreak, err)
		}
		return nil
	}
	return fmt.Errorf("window %d: %w", win.Index, err)
}

// classifyWindow asks the model to classify one window, driving the
// inspect_discussion tool when requested.
func (a *Analyzer) classifyWindow(ctx context.Context, win *Window) (*windowResponse, error) {
	replies, err := a.loadReplies(ctx, win.Messages)
	if err != nil {
		return nil, err
	}
	prompt, err := buildClassifyPrompt(a.state, win.Messages, replies)
	if err != nil {
		return nil, err
	}

	var resp windowResponse
	usage, err := a.model.GenerateJSON(ctx, gateway.GenerateRequest{
		Prompt:          prompt,
		ResponseSchema:  windowResponseSchema,
		Temperature:     genai.Ptr(float32(1.0)),
		MaxOutputTokens: classifyMaxTokens,
		Tools: []gateway.ToolDefinition{{
			Name:        "inspect_discussion",
			Description: "View all messages in a discussion to understand its context before deciding if a new message belongs to it",
			Parameters:  inspectDiscussionTool,
		}},
		ToolHandler: a.handleTool,
	}, &resp)
	a.state.totalTokens += usage.Total()
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// loadReplies fetches the replied-to messages referenced by a window.
func (a *Analyzer) loadReplies(ctx context.Context, messages []models.Message) (map[int64]*models.Message, error) {
	var ids []int64
	seen := map[int64]bool{}
	for i := range messages {
		if rid := messages[i].ReplyToMessageID; rid != nil && !seen[*rid] {
			seen[*rid] = true
			ids = append(ids, *rid)
		}
	}
	if len(ids) == 0 {
		return map[int64]*models.Message{}, nil
	}
	replied, err := a.store.GetMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*models.Message, len(replied))
	for i := range replied {
		out[replied[i].ID] = &replied[i]
	}
	return out, nil
}

// handleTool serves the model's inspect_discussion calls from the archive.
func (a *Analyzer) handleTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if name != "inspect_discussion" {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	id, ok := toolDiscussionID(args)
	if !ok {
		return nil, fmt.Errorf("inspect_discussion requires discussion_id")
	}
	disc, ok := a.state.discussions[id]
	if !ok {
		return nil, fmt.Errorf("discussion %d not found", id)
	}
	a.logger.Debug("inspecting discussion", "discussion_id", id)

	msgIDs := make([]int64, 0, len(disc.MessageIDs))
	for mid := range disc.MessageIDs {
		msgIDs = append(msgIDs, mid)
	}
	messages, err := a.store.GetMessages(ctx, msgIDs)
	if err != nil {
		return nil, err
	}
	replies, err := a.loadReplies(ctx, messages)
	if err != nil {
		return nil, err
	}

	formatted := make([]map[string]any, 0, len(messages))
	for i := range messages {
		m := &messages[i]
		entry := map[string]any{
			"id":        m.ID,
			"sender":    m.SenderDisplayName(),
			"content":   truncate(formatContent(m), 300),
			"timestamp": m.Timestamp.Format(promptTimeLayout),
		}
		if m.ReplyToMessageID != nil {
			if replied, ok := replies[*m.ReplyToMessageID]; ok {
				entry["replying_to"] = replyExcerpt(replied, 80)
			}
		}
		formatted = append(formatted, entry)
	}
	return map[string]any{
		"discussion_id": id,
		"title":         disc.Title,
		"message_count": len(disc.MessageIDs),
		"messages":      formatted,
	}, nil
}

func toolDiscussionID(args map[string]any) (int64, bool) {
	switch v := args["discussion_id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			return id, true
		}
	}
	return 0, false
}

// applyResponse applies one window's classifications inside a transaction.
func (a *Analyzer) applyResponse(ctx context.Context, tx *store.Store, resp *windowResponse, win *Window) error {
	messageMap := make(map[int64]*models.Message, len(win.Messages))
	for i := range win.Messages {
		messageMap[win.Messages[i].ID] = &win.Messages[i]
	}

	// Declared new discussions first, so assignments can resolve them.
	for _, nd := range resp.NewDiscussions {
		if _, exists := a.state.tempIDToID[nd.TempID]; exists {
			continue
		}
		first := firstAssignedMessage(resp, nd.TempID, messageMap)
		if _, err := a.createDiscussion(ctx, tx, nd.TempID, nd.Title, win, first); err != nil {
			return err
		}
	}

	activeThisWindow := map[int64]bool{}

	for _, cls := range resp.Classifications {
		msg, ok := messageMap[cls.MessageID]
		if !ok {
			continue
		}
		for _, asgn := range cls.Assignments {
			disc := a.state.resolve(asgn.DiscussionID)
			if disc == nil {
				if !asgn.DiscussionID.IsInt && asgn.Title != nil && *asgn.Title != "" {
					var err error
					disc, err = a.createDiscussion(ctx, tx, asgn.DiscussionID.Str, *asgn.Title, win, msg)
					if err != nil {
						return err
					}
				} else {
					a.logger.Warn("dropping assignment to unknown discussion",
						"discussion_id", asgn.DiscussionID.String(), "message_id", cls.MessageID)
					continue
				}
			}

			a.logSuspicious(disc, msg, asgn.Confidence)

			if len(disc.MessageIDs) >= a.cfg.MaxMessagesPerDiscussion {
				a.logger.Warn("discussion at message cap, dropping assignment",
					"discussion_id", disc.ID, "message_id", cls.MessageID)
				continue
			}

			if _, seen := disc.MessageIDs[msg.ID]; !seen {
				disc.MessageIDs[msg.ID] = struct{}{}
				if _, err := tx.AppendDiscussionMessage(ctx, disc.ID, msg.ID, asgn.Confidence); err != nil {
					return err
				}
				if err := tx.ExtendDiscussionBounds(ctx, disc.ID, msg.Timestamp); err != nil {
					return err
				}
				if msg.Timestamp.Before(disc.StartedAt) {
					disc.StartedAt = msg.Timestamp
				}
				if msg.Timestamp.After(disc.EndedAt) {
					disc.EndedAt = msg.Timestamp
				}
				a.touched[disc.ID] = true
			}

			disc.addParticipant(msg.SenderDisplayName())
			activeThisWindow[disc.ID] = true
		}
	}

	for id := range activeThisWindow {
		if d, ok := a.state.discussions[id]; ok {
			if d.Dormant {
				a.logger.Info("discussion revived from dormancy", "discussion_id", id)
			}
			a.state.markActive(d)
		}
	}
	for _, id := range a.state.applyDormancy() {
		a.logger.Info("discussion marked dormant", "discussion_id", id,
			"inactive_windows", a.state.windowsSinceActive(a.state.discussions[id]))
	}
	for _, endedID := range resp.DiscussionsEnded {
		if d, ok := a.state.discussions[endedID]; ok {
			d.Ended = true
			a.logger.Info("discussion ended", "discussion_id", endedID)
		}
	}
	return nil
}

// applyResponseReadonly tracks activity and dormancy from a context-phase
// response without writing anything.
func (a *Analyzer) applyResponseReadonly(resp *windowResponse) {
	for _, cls := range resp.Classifications {
		for _, asgn := range cls.Assignments {
			if disc := a.state.resolve(asgn.DiscussionID); disc != nil {
				a.state.markActive(disc)
			}
		}
	}
	a.state.applyDormancy()
}

// createDiscussion persists a new discussion and starts tracking it.
func (a *Analyzer) createDiscussion(ctx context.Context, tx *store.Store, tempID, title string, win *Window, first *models.Message) (*activeDiscussion, error) {
	placeholder := win.Messages[0].Timestamp
	firstContent, firstSender := "", ""
	if first != nil {
		placeholder = first.Timestamp
		firstContent = first.TextContent()
		firstSender = first.SenderDisplayName()
	}
	runID := a.runID
	id, err := tx.CreateDiscussion(ctx, &models.Discussion{
		RoomID:        a.roomID,
		AnalysisRunID: &runID,
		Title:         title,
		StartedAt:     placeholder,
		EndedAt:       placeholder,
	})
	if err != nil {
		return nil, err
	}

	d := &activeDiscussion{
		ID:               id,
		Title:            title,
		TempID:           tempID,
		MessageIDs:       map[int64]struct{}{},
		StartedAt:        placeholder,
		EndedAt:          placeholder,
		LastActiveWindow: a.state.currentWindow,
		TopicKeywords:    topicKeywords(title, firstContent),
	}
	d.addParticipant(firstSender)
	a.state.track(d)
	a.created[id] = true
	a.touched[id] = true
	a.logger.Info("created discussion", "discussion_id", id, "title", title, "keywords", d.TopicKeywords)
	return d, nil
}

// firstAssignedMessage finds the first message assigned to a temp id, for
// keyword seeding and initial bounds.
func firstAssignedMessage(resp *windowResponse, tempID string, messageMap map[int64]*models.Message) *models.Message {
	for _, cls := range resp.Classifications {
		for _, asgn := range cls.Assignments {
			if !asgn.DiscussionID.IsInt && asgn.DiscussionID.Str == tempID {
				if msg, ok := messageMap[cls.MessageID]; ok {
					return msg
				}
			}
		}
	}
	return nil
}

// logSuspicious flags high-confidence assignments to long-inactive
// discussions for offline review.
func (a *Analyzer) logSuspicious(disc *activeDiscussion, msg *models.Message, confidence float64) {
	inactive := a.state.windowsSinceActive(disc)
	if inactive >= 3 && confidence >= 0.9 {
		a.logger.Warn("suspicious assignment",
			"message_id", msg.ID,
			"preview", truncate(msg.TextContent(), 50),
			"discussion_title", disc.Title,
			"inactive_windows", inactive,
			"confidence", confidence)
	}
}

// finishRun generates summaries for touched discussions and refreshes the
// room's participant counts.
func (a *Analyzer) finishRun(ctx context.Context) error {
	for _, id := range a.TouchedDiscussions() {
		if err := a.summarizeDiscussion(ctx, id); err != nil {
			var rl *gateway.RateLimitedError
			if errors.As(err, &rl) {
				return err
			}
			a.logger.Warn("failed to generate discussion summary", "discussion_id", id, "error", err)
		}
	}
	return a.store.RecomputeParticipantCounts(ctx, a.roomID)
}

func (a *Analyzer) summarizeDiscussion(ctx context.Context, id int64) error {
	disc, ok := a.state.discussions[id]
	if !ok {
		return nil
	}
	msgIDs, err := a.store.DiscussionMessageIDs(ctx, id)
	if err != nil {
		return err
	}
	if len(msgIDs) == 0 {
		return nil
	}
	if len(msgIDs) > 100 {
		msgIDs = msgIDs[:100]
	}
	messages, err := a.store.GetMessages(ctx, msgIDs)
	if err != nil {
		return err
	}
	replies, err := a.loadReplies(ctx, messages)
	if err != nil {
		return err
	}

	res, err := a.model.Generate(ctx, gateway.GenerateRequest{
		Prompt:          buildSummaryPrompt(disc.Title, messages, replies),
		Temperature:     genai.Ptr(float32(0.5)),
		MaxOutputTokens: summaryMaxTokens,
	})
	if err != nil {
		return err
	}
	a.state.totalTokens += res.Usage.Total()

	summary := strings.TrimSpace(res.Text)
	if summary == "" {
		return nil
	}
	return a.store.SetDiscussionSummary(ctx, id, summary)
}
