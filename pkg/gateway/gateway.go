// Package gateway provides a uniform client for the remote generation and
// embedding models, with rate-limit accounting, structured-output
// enforcement, and a bounded tool-call loop.
package gateway

import (
	"context"

	"google.golang.org/genai"
)

// Usage is per-request token accounting from the provider.
type Usage struct {
	PromptTokens int
	OutputTokens int
}

// Total returns all tokens consumed by the request.
func (u Usage) Total() int {
	return u.PromptTokens + u.OutputTokens
}

// ToolHandler executes one tool call on behalf of the model and returns the
// payload fed back as the function response.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (map[string]any, error)

// ToolDefinition declares one callable function the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *genai.Schema
}

// GenerateRequest describes one generation call. When ResponseSchema is set
// the provider is constrained to JSON validating against it. When Tools are
// set ToolHandler must be non-nil.
type GenerateRequest struct {
	SystemInstruction string
	Prompt            string
	ResponseSchema    *genai.Schema
	Tools             []ToolDefinition
	ToolHandler       ToolHandler
	Temperature       *float32
	MaxOutputTokens   int32
	ThinkingBudget    *int32
}

// GenerateResult is the model's final payload for a request.
type GenerateResult struct {
	Text  string
	Usage Usage
}

// EmbedResult holds vectors for one embed call, in input order.
type EmbedResult struct {
	Vectors [][]float32
	Dim     int
}

// Client is the model capability consumed by the analyzer, the indexer, and
// the searcher. Implementations are safe for concurrent use.
type Client interface {
	// Generate runs one generation request, driving the tool loop when
	// tools are supplied, and returns the final text payload.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// GenerateJSON runs Generate with a schema constraint and decodes the
	// payload into out, applying one repair pass on malformed JSON.
	GenerateJSON(ctx context.Context, req GenerateRequest, out any) (Usage, error)

	// Embed returns one vector per input text. Inputs are capped at the
	// provider batch limit.
	Embed(ctx context.Context, texts []string) (*EmbedResult, error)
}
