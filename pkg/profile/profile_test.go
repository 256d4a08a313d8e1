package profile

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

type fakeModel struct {
	summary string
	prompts []string
}

func (f *fakeModel) Generate(_ context.Context, req gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	f.prompts = append(f.prompts, req.Prompt)
	return &gateway.GenerateResult{Text: f.summary}, nil
}

func (f *fakeModel) GenerateJSON(context.Context, gateway.GenerateRequest, any) (gateway.Usage, error) {
	return gateway.Usage{}, errors.New("not scripted")
}

func (f *fakeModel) Embed(_ context.Context, texts []string) (*gateway.EmbedResult, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, 768)
		vectors[i][0] = 1
	}
	return &gateway.EmbedResult{Vectors: vectors, Dim: 768}, nil
}

func testConfig() *config.Config {
	return &config.Config{GeminiAPIKey: "test-key", SimilarityThreshold: 0.3, HybridAlpha: 0.5, ReindexBatchSize: 100}
}

func TestGenerateSummary(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)
	ctx := context.Background()

	roomID := testutil.SeedRoom(t, pool, "Profile Room")
	ana := testutil.SeedPerson(t, pool, "Ana")
	testutil.SeedMessages(t, pool, roomID, ana, 3, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	model := &fakeModel{summary: "Ana writes with curiosity and patience."}
	svc := NewService(st, model, testConfig(), slog.Default())

	person, err := svc.GenerateSummary(ctx, ana)
	require.NoError(t, err)
	require.NotNil(t, person.AISummary)
	assert.Equal(t, "Ana writes with curiosity and patience.", *person.AISummary)
	assert.Equal(t, 3, person.AISummaryMessageCount)
	assert.NotNil(t, person.AISummaryGeneratedAt)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "messages from Ana")
	assert.Contains(t, model.prompts[0], "message number 0")

	// The summary lands in the embedding index.
	emb, err := st.GetEmbedding(ctx, models.EntityPerson, ana)
	require.NoError(t, err)
	assert.NotEmpty(t, emb.ContentHash)
}

func TestGenerateSummary_NoMessages(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)

	ana := testutil.SeedPerson(t, pool, "Ana")
	svc := NewService(st, &fakeModel{summary: "x"}, testConfig(), slog.Default())
	_, err := svc.GenerateSummary(context.Background(), ana)
	assert.Error(t, err)
}

func TestGenerateSummary_PersonNotFound(t *testing.T) {
	pool := testutil.SetupTestDatabase(t)
	st := store.New(pool)

	svc := NewService(st, &fakeModel{summary: "x"}, testConfig(), slog.Default())
	_, err := svc.GenerateSummary(context.Background(), 99999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
