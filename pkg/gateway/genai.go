package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/chronicle-archive/chronicle/pkg/config"
)

// maxToolTurns bounds the tool-call conversation before giving up.
const maxToolTurns = 10

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
type embedFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// GeminiClient implements Client against the Gemini API.
type GeminiClient struct {
	generationModel string
	embeddingModel  string
	modelDim        int
	thinkingBudget  int32
	limiter         *TokenBucket
	logger          *slog.Logger

	// Seams for tests; production points them at the SDK.
	generate generateFunc
	embed    embedFunc
}

// NewGeminiClient builds the production gateway. Fails with ErrConfigMissing
// when no API key is configured.
func NewGeminiClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*GeminiClient, error) {
	if !cfg.HasModelCredentials() {
		return nil, ErrConfigMissing
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return &GeminiClient{
		generationModel: cfg.GenerationModel,
		embeddingModel:  cfg.EmbeddingModel,
		modelDim:        cfg.ModelDim,
		thinkingBudget:  int32(cfg.ThinkingBudget),
		limiter:         NewTokenBucket(cfg.RateLimitTokensPerMinute),
		logger:          logger.With("component", "gateway"),
		generate:        client.Models.GenerateContent,
		embed:           client.Models.EmbedContent,
	}, nil
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.SystemInstruction != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.ResponseSchema != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = req.ResponseSchema
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	budget := req.ThinkingBudget
	if budget == nil && c.thinkingBudget > 0 {
		budget = genai.Ptr(c.thinkingBudget)
	}
	if budget != nil {
		genCfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: budget}
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	var usage Usage

	for turn := 0; turn < maxToolTurns; turn++ {
		estimated := estimateTokens(req.SystemInstruction, contents)
		if err := c.limiter.Acquire(estimated); err != nil {
			return nil, err
		}

		resp, err := c.generate(ctx, c.generationModel, contents, genCfg)
		if err != nil {
			return nil, fmt.Errorf("generation request failed: %w", err)
		}
		usage = settleUsage(c.limiter, usage, resp, estimated)

		calls := functionCalls(resp)
		if len(calls) == 0 {
			return &GenerateResult{Text: resp.Text(), Usage: usage}, nil
		}
		if req.ToolHandler == nil {
			return nil, &BadModelOutputError{Reason: "model requested a tool but none are available"}
		}

		contents = append(contents, resp.Candidates[0].Content)
		for _, call := range calls {
			c.logger.Debug("executing tool call", "tool", call.Name)
			result, err := req.ToolHandler(ctx, call.Name, call.Args)
			if err != nil {
				result = map[string]any{"error": err.Error()}
			}
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(call.Name, result)},
				genai.RoleUser,
			))
		}
	}

	return nil, &ToolLoopExhaustedError{Turns: maxToolTurns}
}

// GenerateJSON implements Client.
func (c *GeminiClient) GenerateJSON(ctx context.Context, req GenerateRequest, out any) (Usage, error) {
	res, err := c.Generate(ctx, req)
	if err != nil {
		return Usage{}, err
	}
	if err := json.Unmarshal([]byte(res.Text), out); err == nil {
		return res.Usage, nil
	}
	repaired := repairJSON(res.Text)
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		c.logger.Warn("model output unparseable after repair", "error", err)
		return res.Usage, &BadModelOutputError{Reason: err.Error(), Raw: res.Text}
	}
	c.logger.Debug("model output repaired", "original_len", len(res.Text), "repaired_len", len(repaired))
	return res.Usage, nil
}

// Embed implements Client.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) (*EmbedResult, error) {
	if len(texts) == 0 {
		return &EmbedResult{Dim: c.modelDim}, nil
	}
	if len(texts) > config.EmbedBatchCap {
		return nil, fmt.Errorf("embed batch of %d exceeds provider cap %d", len(texts), config.EmbedBatchCap)
	}

	estimated := 0
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		estimated += len(t) / 4
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	if err := c.limiter.Acquire(estimated); err != nil {
		return nil, err
	}

	resp, err := c.embed(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(c.modelDim)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	c.limiter.Record(estimated)

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Values) != c.modelDim {
			return nil, fmt.Errorf("provider returned dimension %d, want %d", len(e.Values), c.modelDim)
		}
		vectors[i] = e.Values
	}
	return &EmbedResult{Vectors: vectors, Dim: c.modelDim}, nil
}

// estimateTokens approximates prompt cost as total characters over four.
func estimateTokens(system string, contents []*genai.Content) int {
	n := len(system)
	for _, content := range contents {
		for _, part := range content.Parts {
			n += len(part.Text)
		}
	}
	return n / 4
}

// settleUsage records actual token counts when the provider reports them,
// falling back to the estimate.
func settleUsage(limiter *TokenBucket, acc Usage, resp *genai.GenerateContentResponse, estimated int) Usage {
	if resp.UsageMetadata != nil {
		turn := Usage{
			PromptTokens: int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
		limiter.Record(turn.Total())
		acc.PromptTokens += turn.PromptTokens
		acc.OutputTokens += turn.OutputTokens
		return acc
	}
	limiter.Record(estimated)
	acc.PromptTokens += estimated
	return acc
}

func functionCalls(resp *genai.GenerateContentResponse) []*genai.FunctionCall {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}
