package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

const (
	// candidateLimit caps how many vector hits per kind feed the fusion
	// stage.
	candidateLimit = 500

	// participantFactor discounts discussions reached through a matching
	// participant rather than their own embedding.
	participantFactor = 0.85

	// participantLimit caps how many matching people feed the fallback.
	// Every discussion each of them spoke in is considered.
	participantLimit = 20

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Request is one search query. Pagination applies independently to each
// entity kind the scope covers.
type Request struct {
	Query    string
	Scope    models.SearchScope
	Page     int
	PageSize int
}

// Searcher answers hybrid queries: vector candidates fused with keyword
// relevance, one embedding call per query.
type Searcher struct {
	store  *store.Store
	model  gateway.Client
	cfg    *config.Config
	logger *slog.Logger
}

func NewSearcher(st *store.Store, model gateway.Client, cfg *config.Config, logger *slog.Logger) *Searcher {
	return &Searcher{
		store:  st,
		model:  model,
		cfg:    cfg,
		logger: logger.With("component", "searcher"),
	}
}

type candidate struct {
	entityType    models.EntityType
	entityID      int64
	semanticScore float64
	keywordScore  float64
	finalScore    float64
}

func (c *candidate) matchType() models.MatchType {
	if c.keywordScore > 0 {
		return models.MatchHybrid
	}
	return models.MatchSemantic
}

var kindKeys = map[models.EntityType]string{
	models.EntityMessage:    "messages",
	models.EntityDiscussion: "discussions",
	models.EntityPerson:     "people",
	models.EntityTopic:      "topics",
}

// Search runs one hybrid query and returns the grouped, per-kind paginated
// response.
func (s *Searcher) Search(ctx context.Context, req Request) (*models.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if !s.cfg.HasModelCredentials() {
		return nil, gateway.ErrConfigMissing
	}
	types := req.Scope.EntityTypes()
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	embedded, err := s.model.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vector := embedded.Vectors[0]

	candidates, err := s.gatherCandidates(ctx, vector, types)
	if err != nil {
		return nil, err
	}
	if err := s.applyKeywordScores(ctx, query, candidates); err != nil {
		return nil, err
	}

	scored := fuse(candidates, s.cfg.HybridAlpha, s.cfg.SimilarityThreshold)

	byKind := map[models.EntityType][]*candidate{}
	for _, c := range scored {
		byKind[c.entityType] = append(byKind[c.entityType], c)
	}

	resp := &models.SearchResponse{
		Query: query,
		Results: models.SearchResultSet{
			Messages:    []models.MessageHit{},
			Discussions: []models.DiscussionHit{},
			People:      []models.PersonHit{},
			Topics:      []models.TopicHit{},
		},
		Pagination: map[string]models.PageInfo{},
	}

	totals := map[models.EntityType]int{}
	for _, t := range types {
		group := byKind[t]
		totals[t] = len(group)
		slice := paginate(group, (page-1)*size, size)
		switch t {
		case models.EntityMessage:
			if resp.Results.Messages, err = s.hydrateMessages(ctx, slice); err != nil {
				return nil, err
			}
		case models.EntityDiscussion:
			if resp.Results.Discussions, err = s.hydrateDiscussions(ctx, slice); err != nil {
				return nil, err
			}
		case models.EntityPerson:
			if resp.Results.People, err = s.hydratePeople(ctx, slice); err != nil {
				return nil, err
			}
		case models.EntityTopic:
			if resp.Results.Topics, err = s.hydrateTopics(ctx, slice); err != nil {
				return nil, err
			}
		}
	}

	resp.Counts = models.SearchCounts{
		Messages:    totals[models.EntityMessage],
		Discussions: totals[models.EntityDiscussion],
		People:      totals[models.EntityPerson],
		Topics:      totals[models.EntityTopic],
	}
	resp.Counts.Total = resp.Counts.Messages + resp.Counts.Discussions +
		resp.Counts.People + resp.Counts.Topics
	for _, t := range models.AllEntityTypes {
		resp.Pagination[kindKeys[t]] = models.NewPageInfo(page, size, totals[t])
	}

	s.logger.Debug("search complete", "query", query, "candidates", len(candidates))
	return resp, nil
}

// gatherCandidates collects vector hits for the requested types, plus
// discussions reached through semantically matching participants.
func (s *Searcher) gatherCandidates(ctx context.Context, vector []float32, types []models.EntityType) (map[string]*candidate, error) {
	hits, err := s.store.VectorSearch(ctx, vector, types, s.cfg.SimilarityThreshold, candidateLimit)
	if err != nil {
		return nil, err
	}

	candidates := map[string]*candidate{}
	add := func(entityType models.EntityType, id int64, similarity float64) {
		key := candidateKey(entityType, id)
		if existing, ok := candidates[key]; ok {
			if similarity > existing.semanticScore {
				existing.semanticScore = similarity
			}
			return
		}
		candidates[key] = &candidate{entityType: entityType, entityID: id, semanticScore: similarity}
	}
	for _, h := range hits {
		add(h.EntityType, h.EntityID, h.Similarity)
	}

	if !containsType(types, models.EntityDiscussion) {
		return candidates, nil
	}

	// Participant fallback: the top matching people surface every
	// discussion they spoke in, at a discount.
	personHits, err := s.store.VectorSearch(ctx, vector, []models.EntityType{models.EntityPerson}, s.cfg.SimilarityThreshold, participantLimit)
	if err != nil {
		return nil, err
	}
	for _, h := range personHits {
		discussionIDs, err := s.store.DiscussionsByParticipant(ctx, h.EntityID)
		if err != nil {
			return nil, err
		}
		for _, id := range discussionIDs {
			add(models.EntityDiscussion, id, h.Similarity*participantFactor)
		}
	}
	return candidates, nil
}

func (s *Searcher) applyKeywordScores(ctx context.Context, query string, candidates map[string]*candidate) error {
	byType := map[models.EntityType][]int64{}
	for _, c := range candidates {
		byType[c.entityType] = append(byType[c.entityType], c.entityID)
	}
	for entityType, ids := range byType {
		var scores map[int64]float64
		var err error
		switch entityType {
		case models.EntityMessage:
			scores, err = s.store.MessageKeywordScores(ctx, query, ids)
		case models.EntityDiscussion:
			scores, err = s.store.DiscussionKeywordScores(ctx, query, ids)
		case models.EntityPerson:
			scores, err = s.store.PersonKeywordScores(ctx, query, ids)
		case models.EntityTopic:
			scores, err = s.store.TopicKeywordScores(ctx, query, ids)
		}
		if err != nil {
			return err
		}
		for id, score := range scores {
			if c, ok := candidates[candidateKey(entityType, id)]; ok {
				c.keywordScore = score
			}
		}
	}
	return nil
}

// fuse blends semantic and keyword scores. A candidate with no keyword
// signal keeps its pure semantic score rather than being halved.
func fuse(candidates map[string]*candidate, alpha, threshold float64) []*candidate {
	var out []*candidate
	for _, c := range candidates {
		if c.keywordScore > 0 {
			c.finalScore = alpha*c.semanticScore + (1-alpha)*c.keywordScore
		} else {
			c.finalScore = c.semanticScore
		}
		if c.finalScore < threshold {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].finalScore != out[j].finalScore {
			return out[i].finalScore > out[j].finalScore
		}
		if out[i].entityType != out[j].entityType {
			return out[i].entityType < out[j].entityType
		}
		return out[i].entityID < out[j].entityID
	})
	return out
}

func paginate(scored []*candidate, offset, limit int) []*candidate {
	if offset >= len(scored) {
		return nil
	}
	end := offset + limit
	if end > len(scored) {
		end = len(scored)
	}
	return scored[offset:end]
}

func (s *Searcher) hydrateMessages(ctx context.Context, page []*candidate) ([]models.MessageHit, error) {
	hits := make([]models.MessageHit, 0, len(page))
	if len(page) == 0 {
		return hits, nil
	}
	messages, err := s.store.GetMessages(ctx, candidateIDs(page))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Message, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
	}
	for _, c := range page {
		m, ok := byID[c.entityID]
		if !ok {
			// Deleted between scoring and hydration.
			continue
		}
		hits = append(hits, models.MessageHit{
			ID:           m.ID,
			Content:      m.TextContent(),
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			SenderAvatar: m.SenderAvatarURL,
			Timestamp:    m.Timestamp,
			Score:        round3(c.finalScore),
			MatchType:    c.matchType(),
		})
	}
	return hits, nil
}

func (s *Searcher) hydrateDiscussions(ctx context.Context, page []*candidate) ([]models.DiscussionHit, error) {
	hits := make([]models.DiscussionHit, 0, len(page))
	if len(page) == 0 {
		return hits, nil
	}
	discussions, err := s.store.GetDiscussions(ctx, candidateIDs(page))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Discussion, len(discussions))
	for i := range discussions {
		byID[discussions[i].ID] = &discussions[i]
	}
	for _, c := range page {
		d, ok := byID[c.entityID]
		if !ok {
			continue
		}
		hits = append(hits, models.DiscussionHit{
			ID:           d.ID,
			Title:        d.Title,
			Summary:      d.Summary,
			StartedAt:    d.StartedAt,
			EndedAt:      d.EndedAt,
			MessageCount: d.MessageCount,
			Score:        round3(c.finalScore),
			MatchType:    c.matchType(),
		})
	}
	return hits, nil
}

func (s *Searcher) hydratePeople(ctx context.Context, page []*candidate) ([]models.PersonHit, error) {
	hits := make([]models.PersonHit, 0, len(page))
	if len(page) == 0 {
		return hits, nil
	}
	people, err := s.store.GetPeople(ctx, candidateIDs(page))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Person, len(people))
	for i := range people {
		byID[people[i].ID] = &people[i]
	}
	for _, c := range page {
		p, ok := byID[c.entityID]
		if !ok {
			continue
		}
		hits = append(hits, models.PersonHit{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			AISummary:   p.AISummary,
			Score:       round3(c.finalScore),
			MatchType:   c.matchType(),
		})
	}
	return hits, nil
}

func (s *Searcher) hydrateTopics(ctx context.Context, page []*candidate) ([]models.TopicHit, error) {
	hits := make([]models.TopicHit, 0, len(page))
	if len(page) == 0 {
		return hits, nil
	}
	topics, err := s.store.GetTopics(ctx, candidateIDs(page))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Topic, len(topics))
	for i := range topics {
		byID[topics[i].ID] = &topics[i]
	}
	for _, c := range page {
		t, ok := byID[c.entityID]
		if !ok {
			continue
		}
		hits = append(hits, models.TopicHit{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Color:       t.Color,
			Score:       round3(c.finalScore),
			MatchType:   c.matchType(),
		})
	}
	return hits, nil
}

func candidateIDs(page []*candidate) []int64 {
	ids := make([]int64, 0, len(page))
	for _, c := range page {
		ids = append(ids, c.entityID)
	}
	return ids
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func candidateKey(entityType models.EntityType, id int64) string {
	return fmt.Sprintf("%s:%d", entityType, id)
}

func containsType(types []models.EntityType, want models.EntityType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
