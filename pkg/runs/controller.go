// Package runs owns the lifecycle of long-running jobs: analysis runs,
// topic classification, and bulk reindexing. One controller instance
// serializes each job kind.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-archive/chronicle/pkg/analysis"
	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/search"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

// ErrAlreadyRunning rejects a start request while the same job kind is in
// flight.
var ErrAlreadyRunning = errors.New("job already running")

// staleAfter is how long a running run may go without a progress update
// before it is presumed dead.
const staleAfter = 2 * time.Minute

// Controller launches and tracks workers. Liveness is process-local: a
// running run whose room has no in-memory flag belonged to a dead process.
type Controller struct {
	store  *store.Store
	model  gateway.Client
	cfg    *config.Config
	logger *slog.Logger

	indexer    *search.Indexer
	classifier *analysis.TopicClassifier

	mu             sync.Mutex
	analysisActive map[int64]bool
	topicsActive   bool
	reindexActive  bool
	reindexStatus  models.ReindexStatus

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewController(st *store.Store, model gateway.Client, cfg *config.Config, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:          st,
		model:          model,
		cfg:            cfg,
		logger:         logger.With("component", "runs"),
		indexer:        search.NewIndexer(st, model, cfg, logger),
		classifier:     analysis.NewTopicClassifier(st, model, logger),
		analysisActive: map[int64]bool{},
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// Shutdown cancels all workers and waits for them to wind down or the
// context to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartAnalysis launches an analysis worker for the room and returns the
// new run id. At most one run per room may be in flight.
func (c *Controller) StartAnalysis(ctx context.Context, roomID int64, mode models.AnalysisMode) (int64, error) {
	if !c.cfg.HasModelCredentials() {
		return 0, gateway.ErrConfigMissing
	}
	if _, err := c.store.GetRoom(ctx, roomID); err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.analysisActive[roomID] {
		c.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	c.analysisActive[roomID] = true
	c.mu.Unlock()

	runID, err := c.store.CreateRun(ctx, roomID, mode)
	if err != nil {
		c.clearAnalysis(roomID)
		return 0, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.clearAnalysis(roomID)
		c.runAnalysis(runID, roomID, mode)
	}()
	return runID, nil
}

func (c *Controller) clearAnalysis(roomID int64) {
	c.mu.Lock()
	delete(c.analysisActive, roomID)
	c.mu.Unlock()
}

// terminalCtx outlives baseCtx so a canceled worker can still persist its
// terminal status before Shutdown returns.
func terminalCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (c *Controller) runAnalysis(runID, roomID int64, mode models.AnalysisMode) {
	// Worker id distinguishes retried runs of the same room in the logs.
	logger := c.logger.With("run_id", runID, "room_id", roomID, "worker_id", uuid.NewString())
	analyzer := analysis.NewAnalyzer(c.store, c.model, c.cfg, c.logger, runID, roomID)

	result, err := analyzer.Run(c.baseCtx, mode)
	writeCtx, cancel := terminalCtx()
	defer cancel()
	if err != nil {
		logger.Error("analysis run failed", "error", err)
		if failErr := c.store.FailRun(writeCtx, runID, err.Error()); failErr != nil {
			logger.Error("failed to record run failure", "error", failErr)
		}
		return
	}
	if err := c.store.CompleteRun(writeCtx, runID, result); err != nil {
		logger.Error("failed to record run completion", "error", err)
		return
	}
	logger.Info("analysis run complete",
		"mode", result.Mode, "windows", result.WindowsProcessed,
		"discussions_found", result.DiscussionsFound, "tokens", result.TotalTokens)

	// Freshly written discussions go straight into the embedding index.
	for _, id := range analyzer.TouchedDiscussions() {
		if _, err := c.indexer.EmbedEntity(c.baseCtx, models.EntityDiscussion, id); err != nil {
			logger.Warn("failed to embed discussion", "discussion_id", id, "error", err)
		}
	}
}

// AnalysisStatus returns the room's latest run, first sweeping runs whose
// worker died without a terminal status.
func (c *Controller) AnalysisStatus(ctx context.Context, roomID int64) (*models.AnalysisRun, error) {
	if err := c.sweepStaleRuns(ctx); err != nil {
		c.logger.Warn("stale run sweep failed", "error", err)
	}
	return c.store.LatestRunForRoom(ctx, roomID)
}

// sweepStaleRuns fails runs that look live in the database but have no
// worker in this process and no recent heartbeat.
func (c *Controller) sweepStaleRuns(ctx context.Context) error {
	stale, err := c.store.StaleRunningRuns(ctx, staleAfter)
	if err != nil {
		return err
	}
	for _, run := range stale {
		c.mu.Lock()
		active := c.analysisActive[run.RoomID]
		if run.Mode == models.ModeTopics {
			active = c.topicsActive
		}
		c.mu.Unlock()
		if active {
			continue
		}
		c.logger.Warn("marking stale run failed", "run_id", run.ID, "room_id", run.RoomID)
		if err := c.store.MarkRunStale(ctx, run.ID); err != nil {
			return err
		}
	}
	return nil
}

// PreviewIncremental reports what an incremental run would pick up,
// without starting one.
func (c *Controller) PreviewIncremental(ctx context.Context, roomID int64) (*models.IncrementalPreview, error) {
	if _, err := c.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	lastRun, err := c.store.LatestCompletedRunWithEnd(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		total, err := c.store.CountEligibleMessages(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return &models.IncrementalPreview{NewMessages: total}, nil
	}
	if err != nil {
		return nil, err
	}

	newCount, err := c.store.CountEligibleMessagesAfter(ctx, roomID, *lastRun.EndMessageID)
	if err != nil {
		return nil, err
	}
	contextMessages, err := c.store.ContextMessages(ctx, roomID, *lastRun.EndMessageID, c.cfg.ContextWindows*c.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	return &models.IncrementalPreview{
		IncrementalAvailable: true,
		NewMessages:          newCount,
		ContextMessages:      len(contextMessages),
		LastAnalysis:         lastRun,
	}, nil
}

// StartTopicClassification launches a topic reclassification for the room.
// Globally serialized.
func (c *Controller) StartTopicClassification(ctx context.Context, roomID int64) (int64, error) {
	if !c.cfg.HasModelCredentials() {
		return 0, gateway.ErrConfigMissing
	}
	if _, err := c.store.GetRoom(ctx, roomID); err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.topicsActive {
		c.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	c.topicsActive = true
	c.mu.Unlock()

	runID, err := c.store.CreateRun(ctx, roomID, models.ModeTopics)
	if err != nil {
		c.mu.Lock()
		c.topicsActive = false
		c.mu.Unlock()
		return 0, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.topicsActive = false
			c.mu.Unlock()
		}()
		logger := c.logger.With("run_id", runID, "room_id", roomID, "worker_id", uuid.NewString())
		result, err := c.classifier.Classify(c.baseCtx, roomID)
		writeCtx, cancel := terminalCtx()
		defer cancel()
		if err != nil {
			logger.Error("topic classification failed", "error", err)
			if failErr := c.store.FailRun(writeCtx, runID, err.Error()); failErr != nil {
				logger.Error("failed to record topic run failure", "error", failErr)
			}
			return
		}
		if err := c.store.CompleteRun(writeCtx, runID, &models.AnalysisResult{
			DiscussionsFound: result.DiscussionsTagged,
			TotalTokens:      result.TotalTokens,
		}); err != nil {
			logger.Error("failed to record topic run completion", "error", err)
		}
		for _, id := range result.TouchedTopicIDs {
			if _, err := c.indexer.EmbedEntity(c.baseCtx, models.EntityTopic, id); err != nil {
				logger.Warn("failed to embed topic", "topic_id", id, "error", err)
			}
		}
	}()
	return runID, nil
}

// StartReindex launches a bulk reindex over the given entity kinds (all
// when empty). Globally serialized; progress is process-local.
func (c *Controller) StartReindex(ctx context.Context, types []models.EntityType) error {
	if !c.cfg.HasModelCredentials() {
		return gateway.ErrConfigMissing
	}

	c.mu.Lock()
	if c.reindexActive {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.reindexActive = true
	c.reindexStatus = models.ReindexStatus{
		Status:   models.RunStatusRunning,
		Progress: map[string]models.ReindexProgress{},
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.indexer.Reindex(c.baseCtx, types, func(entityType models.EntityType, completed, total int) {
			c.mu.Lock()
			c.reindexStatus.Progress[string(entityType)] = models.ReindexProgress{
				Total:     total,
				Completed: completed,
			}
			c.mu.Unlock()
		})

		c.mu.Lock()
		defer c.mu.Unlock()
		c.reindexActive = false
		if err != nil {
			c.logger.Error("reindex failed", "error", err)
			msg := err.Error()
			c.reindexStatus.Status = models.RunStatusFailed
			c.reindexStatus.Error = &msg
			return
		}
		now := time.Now().UTC()
		c.reindexStatus.Status = models.RunStatusCompleted
		c.reindexStatus.LastCompletedAt = &now
		c.logger.Info("reindex complete")
	}()
	return nil
}

// ReindexStatus returns a copy of the current reindex progress.
func (c *Controller) ReindexStatus() models.ReindexStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.reindexStatus
	status.Progress = make(map[string]models.ReindexProgress, len(c.reindexStatus.Progress))
	for k, v := range c.reindexStatus.Progress {
		status.Progress[k] = v
	}
	return status
}

// EmbedEntity embeds one entity synchronously.
func (c *Controller) EmbedEntity(ctx context.Context, entityType models.EntityType, entityID int64) (search.EmbedOutcome, error) {
	if !c.cfg.HasModelCredentials() {
		return "", gateway.ErrConfigMissing
	}
	return c.indexer.EmbedEntity(ctx, entityType, entityID)
}
