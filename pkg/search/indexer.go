package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

// EmbedOutcome reports what a single-entity embed request did.
type EmbedOutcome string

const (
	OutcomeEmbedded  EmbedOutcome = "embedded"
	OutcomeUnchanged EmbedOutcome = "unchanged"
	OutcomeSkipped   EmbedOutcome = "skipped"
)

// ProgressFunc receives per-entity-kind reindex progress.
type ProgressFunc func(entityType models.EntityType, completed, total int)

// Indexer writes entity embeddings, singly or as a bulk reindex.
type Indexer struct {
	store  *store.Store
	model  gateway.Client
	cfg    *config.Config
	logger *slog.Logger
}

func NewIndexer(st *store.Store, model gateway.Client, cfg *config.Config, logger *slog.Logger) *Indexer {
	return &Indexer{
		store:  st,
		model:  model,
		cfg:    cfg,
		logger: logger.With("component", "indexer"),
	}
}

// EmbedEntity embeds one entity, skipping the model call when the stored
// content hash already matches. Returns store.ErrNotFound when the entity
// does not exist.
func (ix *Indexer) EmbedEntity(ctx context.Context, entityType models.EntityType, entityID int64) (EmbedOutcome, error) {
	text, ok, err := ix.entityContent(ctx, entityType, entityID)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeSkipped, nil
	}

	hash := hashContent(text)
	existing, err := ix.store.GetEmbedding(ctx, entityType, entityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if existing != nil && existing.ContentHash == hash {
		return OutcomeUnchanged, nil
	}

	res, err := ix.model.Embed(ctx, []string{text})
	if err != nil {
		return "", err
	}
	if err := ix.store.UpsertEmbedding(ctx, entityType, entityID, hash, res.Vectors[0]); err != nil {
		return "", err
	}
	ix.logger.Debug("embedded entity", "entity_type", entityType, "entity_id", entityID)
	return OutcomeEmbedded, nil
}

func (ix *Indexer) entityContent(ctx context.Context, entityType models.EntityType, entityID int64) (string, bool, error) {
	switch entityType {
	case models.EntityMessage:
		m, err := ix.store.GetMessage(ctx, entityID)
		if err != nil {
			return "", false, err
		}
		text, ok := messageContent(m)
		return text, ok, nil
	case models.EntityDiscussion:
		d, err := ix.store.GetDiscussion(ctx, entityID)
		if err != nil {
			return "", false, err
		}
		text, ok := discussionContent(d)
		return text, ok, nil
	case models.EntityPerson:
		p, err := ix.store.GetPerson(ctx, entityID)
		if err != nil {
			return "", false, err
		}
		text, ok := personContent(p)
		return text, ok, nil
	case models.EntityTopic:
		tp, err := ix.store.GetTopic(ctx, entityID)
		if err != nil {
			return "", false, err
		}
		text, ok := topicContent(tp)
		return text, ok, nil
	default:
		return "", false, fmt.Errorf("unknown entity type %q", entityType)
	}
}

// Reindex walks the requested entity kinds (all of them when types is
// empty) in id order and embeds whatever changed since the last pass.
// Batches are paced to stay inside provider quotas.
func (ix *Indexer) Reindex(ctx context.Context, types []models.EntityType, progress ProgressFunc) error {
	if len(types) == 0 {
		types = models.AllEntityTypes
	}
	for _, entityType := range types {
		if err := ix.reindexKind(ctx, entityType, progress); err != nil {
			return fmt.Errorf("reindex %s: %w", entityType, err)
		}
	}
	return nil
}

func (ix *Indexer) reindexKind(ctx context.Context, entityType models.EntityType, progress ProgressFunc) error {
	total, err := ix.countKind(ctx, entityType)
	if err != nil {
		return err
	}
	if progress != nil {
		progress(entityType, 0, total)
	}
	ix.logger.Info("reindexing", "entity_type", entityType, "total", total)

	completed := 0
	var afterID int64
	for {
		items, err := ix.fetchBatch(ctx, entityType, afterID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		afterID = items[len(items)-1].id

		if err := ix.embedBatch(ctx, entityType, items); err != nil {
			return err
		}
		completed += len(items)
		if progress != nil {
			progress(entityType, completed, total)
		}

		if ix.cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(ix.cfg.InterBatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type reindexItem struct {
	id   int64
	text string
	ok   bool
}

func (ix *Indexer) countKind(ctx context.Context, entityType models.EntityType) (int, error) {
	switch entityType {
	case models.EntityMessage:
		return ix.store.CountEmbeddableMessages(ctx)
	case models.EntityDiscussion:
		return ix.store.CountDiscussions(ctx)
	case models.EntityPerson:
		return ix.store.CountPeople(ctx)
	case models.EntityTopic:
		return ix.store.CountTopics(ctx)
	}
	return 0, fmt.Errorf("unknown entity type %q", entityType)
}

func (ix *Indexer) fetchBatch(ctx context.Context, entityType models.EntityType, afterID int64) ([]reindexItem, error) {
	limit := ix.cfg.ReindexBatchSize
	switch entityType {
	case models.EntityMessage:
		messages, err := ix.store.EmbeddableMessagesAfter(ctx, afterID, limit)
		if err != nil {
			return nil, err
		}
		items := make([]reindexItem, len(messages))
		for i := range messages {
			text, ok := messageContent(&messages[i])
			items[i] = reindexItem{id: messages[i].ID, text: text, ok: ok}
		}
		return items, nil
	case models.EntityDiscussion:
		discussions, err := ix.store.DiscussionsAfter(ctx, afterID, limit)
		if err != nil {
			return nil, err
		}
		items := make([]reindexItem, len(discussions))
		for i := range discussions {
			text, ok := discussionContent(&discussions[i])
			items[i] = reindexItem{id: discussions[i].ID, text: text, ok: ok}
		}
		return items, nil
	case models.EntityPerson:
		people, err := ix.store.PeopleAfter(ctx, afterID, limit)
		if err != nil {
			return nil, err
		}
		items := make([]reindexItem, len(people))
		for i := range people {
			text, ok := personContent(&people[i])
			items[i] = reindexItem{id: people[i].ID, text: text, ok: ok}
		}
		return items, nil
	case models.EntityTopic:
		topics, err := ix.store.TopicsAfter(ctx, afterID, limit)
		if err != nil {
			return nil, err
		}
		items := make([]reindexItem, len(topics))
		for i := range topics {
			text, ok := topicContent(&topics[i])
			items[i] = reindexItem{id: topics[i].ID, text: text, ok: ok}
		}
		return items, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

// embedBatch embeds the subset of a batch whose content hash changed, in
// one provider call.
func (ix *Indexer) embedBatch(ctx context.Context, entityType models.EntityType, items []reindexItem) error {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ok {
			ids = append(ids, it.id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	stored, err := ix.store.ContentHashes(ctx, entityType, ids)
	if err != nil {
		return err
	}

	var pendingIDs []int64
	var pendingHashes, pendingTexts []string
	for _, it := range items {
		if !it.ok {
			continue
		}
		hash := hashContent(it.text)
		if stored[it.id] == hash {
			continue
		}
		pendingIDs = append(pendingIDs, it.id)
		pendingHashes = append(pendingHashes, hash)
		pendingTexts = append(pendingTexts, it.text)
	}
	if len(pendingIDs) == 0 {
		return nil
	}

	res, err := ix.model.Embed(ctx, pendingTexts)
	if err != nil {
		return err
	}
	for i, id := range pendingIDs {
		if err := ix.store.UpsertEmbedding(ctx, entityType, id, pendingHashes[i], res.Vectors[i]); err != nil {
			return err
		}
	}
	return nil
}
