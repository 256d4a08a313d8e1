package search

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/store"
	testutil "github.com/chronicle-archive/chronicle/test/util"
)

// fakeEmbedder satisfies gateway.Client for indexing and search tests. It
// returns queryVector for every input unless vectors maps a text to a
// specific vector.
type fakeEmbedder struct {
	queryVector []float32
	vectors     map[string][]float32
	calls       int
	texts       [][]string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) (*gateway.EmbedResult, error) {
	f.calls++
	f.texts = append(f.texts, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = f.queryVector
		}
	}
	return &gateway.EmbedResult{Vectors: out, Dim: len(out[0])}, nil
}

func (f *fakeEmbedder) Generate(context.Context, gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	return nil, errors.New("generation not scripted")
}

func (f *fakeEmbedder) GenerateJSON(context.Context, gateway.GenerateRequest, any) (gateway.Usage, error) {
	return gateway.Usage{}, errors.New("generation not scripted")
}

// vec768 builds a unit-ish 768-dim vector from its first two components.
func vec768(a, b float32) []float32 {
	v := make([]float32, 768)
	v[0], v[1] = a, b
	return v
}

func searchConfig() *config.Config {
	return &config.Config{
		GeminiAPIKey:        "test-key",
		SimilarityThreshold: 0.3,
		HybridAlpha:         0.5,
		ReindexBatchSize:    100,
		InterBatchDelay:     0,
	}
}

func seedTopicRow(t *testing.T, st *store.Store, roomID int64, name, description string) int64 {
	t.Helper()
	topic, err := st.UpsertTopic(context.Background(), &models.Topic{
		RoomID: roomID, Name: name, Description: &description, Color: "#6366f1",
	})
	require.NoError(t, err)
	return topic.ID
}

func TestIndexer_EmbedEntityLifecycle(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)
	ctx := context.Background()

	roomID := testutil.SeedRoom(t, pool, "Index Room")
	topicID := seedTopicRow(t, st, roomID, "Ethics", "Moral reasoning")

	model := &fakeEmbedder{queryVector: vec768(1, 0)}
	ix := NewIndexer(st, model, searchConfig(), slog.Default())

	outcome, err := ix.EmbedEntity(ctx, models.EntityTopic, topicID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmbedded, outcome)
	assert.Equal(t, 1, model.calls)

	// Identical content short-circuits before the provider.
	outcome, err = ix.EmbedEntity(ctx, models.EntityTopic, topicID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, 1, model.calls)

	// Changed content re-embeds.
	_, err = st.UpsertTopic(ctx, &models.Topic{
		RoomID: roomID, Name: "Ethics", Description: strPtr("Expanded scope"), Color: "#6366f1",
	})
	require.NoError(t, err)
	outcome, err = ix.EmbedEntity(ctx, models.EntityTopic, topicID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmbedded, outcome)
	assert.Equal(t, 2, model.calls)
}

func TestIndexer_EmbedEntitySkipsShortMessages(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)
	ctx := context.Background()

	roomID := testutil.SeedRoom(t, pool, "Short Room")
	ana := testutil.SeedPerson(t, pool, "Ana")
	msgID := testutil.SeedMessage(t, pool, roomID, ana, "hey", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	model := &fakeEmbedder{queryVector: vec768(1, 0)}
	ix := NewIndexer(st, model, searchConfig(), slog.Default())

	outcome, err := ix.EmbedEntity(ctx, models.EntityMessage, msgID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, model.calls)
}

func TestIndexer_EmbedEntityNotFound(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)

	ix := NewIndexer(st, &fakeEmbedder{queryVector: vec768(1, 0)}, searchConfig(), slog.Default())
	_, err := ix.EmbedEntity(context.Background(), models.EntityDiscussion, 99999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIndexer_ReindexSkipsUnchanged(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)
	ctx := context.Background()

	roomID := testutil.SeedRoom(t, pool, "Reindex Room")
	ana := testutil.SeedPerson(t, pool, "Ana")
	testutil.SeedMessages(t, pool, roomID, ana, 5, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	seedTopicRow(t, st, roomID, "Ethics", "Moral reasoning")

	model := &fakeEmbedder{queryVector: vec768(1, 0)}
	ix := NewIndexer(st, model, searchConfig(), slog.Default())

	progress := map[models.EntityType]models.ReindexProgress{}
	record := func(entityType models.EntityType, completed, total int) {
		progress[entityType] = models.ReindexProgress{Total: total, Completed: completed}
	}

	require.NoError(t, ix.Reindex(ctx, nil, record))
	assert.Equal(t, models.ReindexProgress{Total: 5, Completed: 5}, progress[models.EntityMessage])
	assert.Equal(t, models.ReindexProgress{Total: 1, Completed: 1}, progress[models.EntityPerson])
	assert.Equal(t, models.ReindexProgress{Total: 1, Completed: 1}, progress[models.EntityTopic])

	counts, err := st.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[models.EntityMessage])
	assert.Equal(t, 1, counts[models.EntityTopic])

	// Second pass finds every hash unchanged and never calls the provider.
	callsAfterFirst := model.calls
	require.NoError(t, ix.Reindex(ctx, nil, nil))
	assert.Equal(t, callsAfterFirst, model.calls)
}
