package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-archive/chronicle/pkg/config"
	"github.com/chronicle-archive/chronicle/pkg/database"
	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/models"
	"github.com/chronicle-archive/chronicle/pkg/profile"
	"github.com/chronicle-archive/chronicle/pkg/runs"
	"github.com/chronicle-archive/chronicle/pkg/search"
	"github.com/chronicle-archive/chronicle/pkg/store"
	testutil "github.com/chronicle-archive/chronicle/test/util"
)

// stubModel answers every model call with canned output.
type stubModel struct {
	classifications string
	summary         string
}

func (m *stubModel) GenerateJSON(_ context.Context, _ gateway.GenerateRequest, out any) (gateway.Usage, error) {
	payload := m.classifications
	if payload == "" {
		payload = `{"classifications": []}`
	}
	return gateway.Usage{PromptTokens: 10, OutputTokens: 5}, json.Unmarshal([]byte(payload), out)
}

func (m *stubModel) Generate(context.Context, gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	text := m.summary
	if text == "" {
		text = "a short summary"
	}
	return &gateway.GenerateResult{Text: text, Usage: gateway.Usage{PromptTokens: 10, OutputTokens: 5}}, nil
}

func (m *stubModel) Embed(_ context.Context, texts []string) (*gateway.EmbedResult, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, 768)
		vectors[i][0] = 1
	}
	return &gateway.EmbedResult{Vectors: vectors, Dim: 768}, nil
}

type testEnv struct {
	router *gin.Engine
	pool   *pgxpool.Pool
	store  *store.Store
	ctrl   *runs.Controller
}

func newTestServer(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := testutil.SetupTestDatabase(t)
	st := store.New(p)
	model := &stubModel{}
	logger := slog.Default()

	ctrl := runs.NewController(st, model, cfg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})

	srv := NewServer(
		database.NewClientFromPool(p),
		st,
		ctrl,
		search.NewSearcher(st, model, cfg, logger),
		profile.NewService(st, model, cfg, logger),
		logger,
	)
	return &testEnv{router: srv.Router(), pool: p, store: st, ctrl: ctrl}
}

func apiConfig() *config.Config {
	return &config.Config{
		GeminiAPIKey:             "test-key",
		WindowSize:               300,
		WindowOverlap:            40,
		ContextWindows:           1,
		DormancyThreshold:        5,
		MaxMessagesPerDiscussion: 500,
		SimilarityThreshold:      0.3,
		HybridAlpha:              0.5,
		ReindexBatchSize:         100,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t, apiConfig())

	rec := env.do(t, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestStartAnalysis_Validation(t *testing.T) {
	env := newTestServer(t, apiConfig())

	rec := env.do(t, http.MethodPost, "/api/rooms/abc/analysis", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rooms/1/analysis", `{"mode": "sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rooms/99999/analysis", `{"mode": "full"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartAnalysis_NoCredentials(t *testing.T) {
	cfg := apiConfig()
	cfg.GeminiAPIKey = ""
	env := newTestServer(t, cfg)

	rec := env.do(t, http.MethodPost, "/api/rooms/1/analysis", `{"mode": "full"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalysisLifecycleOverHTTP(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Forum")
	ana := testutil.SeedPerson(t, env.pool, "Ana")
	testutil.SeedMessage(t, env.pool, roomID, ana, "does free will exist at all", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/rooms/%d/analysis", roomID), `{"mode": "full"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.NotZero(t, body["run_id"])

	// A second start for the same room conflicts while the first runs,
	// or the first already finished and a new run is accepted. Both are
	// legal; what must never happen is two concurrent runs.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/rooms/%d/analysis", roomID), `{"mode": "full"}`)
	assert.Contains(t, []int{http.StatusConflict, http.StatusAccepted}, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d/analysis", roomID), "")
		if rec.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, rec)["status"] == "completed"
	}, 10*time.Second, 50*time.Millisecond)
}

func TestGetAnalysisStatus_NoRuns(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Quiet")

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d/analysis", roomID), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewIncremental(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Forum")
	ana := testutil.SeedPerson(t, env.pool, "Ana")
	testutil.SeedMessages(t, env.pool, roomID, ana, 3, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d/analysis/preview", roomID), "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["incremental_available"])
	assert.EqualValues(t, 3, body["new_messages"])
}

func TestSearch_Validation(t *testing.T) {
	env := newTestServer(t, apiConfig())

	rec := env.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=ethics&scope=gadgets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=ethics&page=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=ethics&page_size=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := newTestServer(t, apiConfig())

	rec := env.do(t, http.MethodGet, "/api/search?q=ethics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ethics", body["query"])

	results := body["results"].(map[string]any)
	assert.Empty(t, results["messages"])

	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 0, counts["total"])

	pagination := body["pagination"].(map[string]any)
	messages := pagination["messages"].(map[string]any)
	assert.EqualValues(t, 1, messages["page"])
	assert.EqualValues(t, false, messages["has_next"])
}

func TestSearch_HitShape(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Shape Room")
	ana := testutil.SeedPerson(t, env.pool, "Ana")
	msgID := testutil.SeedMessage(t, env.pool, roomID, ana, "a message about stoicism",
		time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	rec := env.do(t, http.MethodPost, "/api/embeddings", fmt.Sprintf(`{"entity_type": "message", "entity_id": %d}`, msgID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/search?q=stoicism&scope=messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	hits := body["results"].(map[string]any)["messages"].([]any)
	require.Len(t, hits, 1)
	hit := hits[0].(map[string]any)
	assert.EqualValues(t, msgID, hit["id"])
	assert.Equal(t, "hybrid", hit["match_type"])
	assert.Equal(t, "Ana", hit["sender_name"])
	assert.NotZero(t, hit["score"])

	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["messages"])
}

func TestEmbedEntityEndpoint(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Forum")
	ana := testutil.SeedPerson(t, env.pool, "Ana")
	msgID := testutil.SeedMessage(t, env.pool, roomID, ana, "a message long enough to embed", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	rec := env.do(t, http.MethodPost, "/api/embeddings", fmt.Sprintf(`{"entity_type": "message", "entity_id": %d}`, msgID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "embedded", decodeBody(t, rec)["status"])

	rec = env.do(t, http.MethodPost, "/api/embeddings", fmt.Sprintf(`{"entity_type": "message", "entity_id": %d}`, msgID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unchanged", decodeBody(t, rec)["status"])

	rec = env.do(t, http.MethodPost, "/api/embeddings", `{"entity_type": "message", "entity_id": 99999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/embeddings", `{"entity_type": "gadget", "entity_id": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/embeddings", `{"entity_type": "message"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReindexEndpoints(t *testing.T) {
	env := newTestServer(t, apiConfig())

	rec := env.do(t, http.MethodGet, "/api/reindex/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/reindex", `{"scope": "gadgets"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/reindex", `{"scope": "topics"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["started"])

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/reindex/status", "")
		return decodeBody(t, rec)["status"] == "completed"
	}, 10*time.Second, 50*time.Millisecond)
}

func TestDiscussionReadSurface(t *testing.T) {
	env := newTestServer(t, apiConfig())
	ctx := context.Background()
	roomID := testutil.SeedRoom(t, env.pool, "Forum")
	ana := testutil.SeedPerson(t, env.pool, "Ana")
	msgIDs := testutil.SeedMessages(t, env.pool, roomID, ana, 2, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	discussionID, err := env.store.CreateDiscussion(ctx, &models.Discussion{
		RoomID:    roomID,
		Title:     "Free Will",
		StartedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for _, id := range msgIDs {
		_, err := env.store.AppendDiscussionMessage(ctx, discussionID, id, 0.9)
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/rooms/%d/discussions", roomID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["total"])

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/discussions/%d", discussionID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.EqualValues(t, 0.9, first["confidence"])

	rec = env.do(t, http.MethodGet, "/api/discussions/99999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/rooms/99999/discussions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGeneratePersonSummaryEndpoint(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Forum")
	ana := testutil.SeedPerson(t, env.pool, "Ana")
	testutil.SeedMessage(t, env.pool, roomID, ana, "thoughts on determinism", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/people/%d/summary", ana), "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "a short summary", body["ai_summary"])

	rec = env.do(t, http.MethodPost, "/api/people/99999/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartTopicClassificationEndpoint(t *testing.T) {
	env := newTestServer(t, apiConfig())
	roomID := testutil.SeedRoom(t, env.pool, "Forum")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/rooms/%d/topics/classify", roomID), "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotZero(t, decodeBody(t, rec)["run_id"])

	rec = env.do(t, http.MethodPost, "/api/rooms/99999/topics/classify", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
