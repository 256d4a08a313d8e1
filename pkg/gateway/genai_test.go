package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newTestClient(gen generateFunc, emb embedFunc) *GeminiClient {
	return &GeminiClient{
		generationModel: "test-generation",
		embeddingModel:  "test-embedding",
		modelDim:        4,
		limiter:         NewTokenBucket(1_000_000),
		logger:          slog.Default(),
		generate:        gen,
		embed:           emb,
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 20,
		},
	}
}

func toolCallResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{Name: name, Args: args},
			}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 10,
		},
	}
}

func TestGenerate_FinalTextFirstTurn(t *testing.T) {
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return textResponse("done"), nil
	}, nil)

	res, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 120, res.Usage.Total())
	assert.Equal(t, 120, c.limiter.Used())
}

func TestGenerate_ToolLoopFeedsResultsBack(t *testing.T) {
	var handledArgs map[string]any
	turn := 0
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		turn++
		if turn == 1 {
			return toolCallResponse("inspect_discussion", map[string]any{"discussion_id": float64(7)}), nil
		}
		// The second turn must carry the model call and the tool response.
		require.Len(t, contents, 3)
		require.NotNil(t, contents[2].Parts[0].FunctionResponse)
		assert.Equal(t, "inspect_discussion", contents[2].Parts[0].FunctionResponse.Name)
		return textResponse(`{"ok": true}`), nil
	}, nil)

	res, err := c.Generate(context.Background(), GenerateRequest{
		Prompt: "classify",
		Tools:  []ToolDefinition{{Name: "inspect_discussion"}},
		ToolHandler: func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
			handledArgs = args
			return map[string]any{"messages": []string{"hi"}}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, res.Text)
	assert.Equal(t, float64(7), handledArgs["discussion_id"])
	assert.Equal(t, 2, turn)
	// Usage accumulates across turns.
	assert.Equal(t, 230, res.Usage.Total())
}

func TestGenerate_ToolLoopExhausted(t *testing.T) {
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return toolCallResponse("inspect_discussion", nil), nil
	}, nil)

	_, err := c.Generate(context.Background(), GenerateRequest{
		Prompt: "classify",
		Tools:  []ToolDefinition{{Name: "inspect_discussion"}},
		ToolHandler: func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	})
	var exhausted *ToolLoopExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, maxToolTurns, exhausted.Turns)
}

func TestGenerate_ToolErrorFedToModel(t *testing.T) {
	turn := 0
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		turn++
		if turn == 1 {
			return toolCallResponse("inspect_discussion", map[string]any{"discussion_id": float64(404)}), nil
		}
		resp := contents[2].Parts[0].FunctionResponse
		require.NotNil(t, resp)
		assert.Contains(t, resp.Response, "error")
		return textResponse("recovered"), nil
	}, nil)

	res, err := c.Generate(context.Background(), GenerateRequest{
		Prompt: "classify",
		Tools:  []ToolDefinition{{Name: "inspect_discussion"}},
		ToolHandler: func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("discussion not found")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
}

func TestGenerateJSON_RepairsMalformedPayload(t *testing.T) {
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return textResponse(`{"topics": [{"name": "Ethics",},],}`), nil
	}, nil)

	var out struct {
		Topics []struct {
			Name string `json:"name"`
		} `json:"topics"`
	}
	_, err := c.GenerateJSON(context.Background(), GenerateRequest{Prompt: "classify"}, &out)
	require.NoError(t, err)
	require.Len(t, out.Topics, 1)
	assert.Equal(t, "Ethics", out.Topics[0].Name)
}

func TestGenerateJSON_BadOutputAfterRepair(t *testing.T) {
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return textResponse("I cannot answer that."), nil
	}, nil)

	var out map[string]any
	_, err := c.GenerateJSON(context.Background(), GenerateRequest{Prompt: "classify"}, &out)
	var bad *BadModelOutputError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "I cannot answer that.", bad.Raw)
}

func TestGenerate_RateLimited(t *testing.T) {
	c := newTestClient(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		t.Fatal("provider must not be called when rate limited")
		return nil, nil
	}, nil)
	c.limiter = NewTokenBucket(10)
	c.limiter.Record(10)

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "a very long prompt that estimates above zero tokens"})
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
}

func TestEmbed_ReturnsVectorsInOrder(t *testing.T) {
	c := newTestClient(nil, func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		embeddings := make([]*genai.ContentEmbedding, len(contents))
		for i := range contents {
			embeddings[i] = &genai.ContentEmbedding{Values: []float32{float32(i), 0, 0, 0}}
		}
		return &genai.EmbedContentResponse{Embeddings: embeddings}, nil
	})

	res, err := c.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, res.Vectors, 2)
	assert.Equal(t, float32(1), res.Vectors[1][0])
	assert.Equal(t, 4, res.Dim)
}

func TestEmbed_RejectsOversizedBatch(t *testing.T) {
	c := newTestClient(nil, nil)
	texts := make([]string, 101)
	for i := range texts {
		texts[i] = "text"
	}
	_, err := c.Embed(context.Background(), texts)
	require.Error(t, err)
}

func TestEmbed_RejectsWrongDimension(t *testing.T) {
	c := newTestClient(nil, func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		return &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2}}},
		}, nil
	})
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
}
