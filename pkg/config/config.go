// Package config loads and validates service configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all settings recognized by the service.
type Config struct {
	// Model provider
	GeminiAPIKey             string
	GenerationModel          string
	EmbeddingModel           string
	ModelDim                 int
	RateLimitTokensPerMinute int
	ThinkingBudget           int

	// Discussion analysis
	WindowSize               int
	WindowOverlap            int
	ContextWindows           int
	DormancyThreshold        int
	MaxMessagesPerDiscussion int

	// Search & indexing
	SimilarityThreshold float64
	HybridAlpha         float64
	ReindexBatchSize    int
	InterBatchDelay     time.Duration

	// HTTP
	HTTPPort string
}

// Defaults mirroring the production deployment.
const (
	DefaultGenerationModel = "gemini-3-flash-preview"
	DefaultEmbeddingModel  = "text-embedding-004"
	DefaultModelDim        = 768

	// Provider-side cap on texts per embedding request.
	EmbedBatchCap = 100
)

// LoadFromEnv reads configuration from environment variables, applying
// defaults for everything except credentials.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GenerationModel: getEnvOrDefault("GENERATION_MODEL", DefaultGenerationModel),
		EmbeddingModel:  getEnvOrDefault("EMBEDDING_MODEL", DefaultEmbeddingModel),
		HTTPPort:        getEnvOrDefault("HTTP_PORT", "8080"),
	}

	var err error
	if cfg.ModelDim, err = getEnvInt("MODEL_DIM", DefaultModelDim); err != nil {
		return nil, err
	}
	if cfg.RateLimitTokensPerMinute, err = getEnvInt("RATE_LIMIT_TOKENS_PER_MINUTE", 800_000); err != nil {
		return nil, err
	}
	if cfg.ThinkingBudget, err = getEnvInt("THINKING_BUDGET", 20_000); err != nil {
		return nil, err
	}
	if cfg.WindowSize, err = getEnvInt("WINDOW_SIZE", 300); err != nil {
		return nil, err
	}
	if cfg.WindowOverlap, err = getEnvInt("WINDOW_OVERLAP", 40); err != nil {
		return nil, err
	}
	if cfg.ContextWindows, err = getEnvInt("CONTEXT_WINDOWS", 4); err != nil {
		return nil, err
	}
	if cfg.DormancyThreshold, err = getEnvInt("DORMANCY_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.MaxMessagesPerDiscussion, err = getEnvInt("MAX_MESSAGES_PER_DISCUSSION", 500); err != nil {
		return nil, err
	}
	if cfg.SimilarityThreshold, err = getEnvFloat("SIMILARITY_THRESHOLD", 0.3); err != nil {
		return nil, err
	}
	if cfg.HybridAlpha, err = getEnvFloat("HYBRID_ALPHA", 0.5); err != nil {
		return nil, err
	}
	if cfg.ReindexBatchSize, err = getEnvInt("REINDEX_BATCH_SIZE", EmbedBatchCap); err != nil {
		return nil, err
	}
	delayMs, err := getEnvInt("INTER_BATCH_DELAY_MS", 100)
	if err != nil {
		return nil, err
	}
	cfg.InterBatchDelay = time.Duration(delayMs) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Credentials are deliberately not
// validated here: the service starts without them and refuses runs instead.
func (c *Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("WINDOW_SIZE must be positive, got %d", c.WindowSize)
	}
	if c.WindowOverlap <= 0 || c.WindowOverlap >= c.WindowSize {
		return fmt.Errorf("WINDOW_OVERLAP must be in (0, WINDOW_SIZE), got %d", c.WindowOverlap)
	}
	if c.ModelDim <= 0 {
		return fmt.Errorf("MODEL_DIM must be positive, got %d", c.ModelDim)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in [0,1], got %g", c.SimilarityThreshold)
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("HYBRID_ALPHA must be in [0,1], got %g", c.HybridAlpha)
	}
	if c.ReindexBatchSize <= 0 {
		return fmt.Errorf("REINDEX_BATCH_SIZE must be positive, got %d", c.ReindexBatchSize)
	}
	if c.ReindexBatchSize > EmbedBatchCap {
		c.ReindexBatchSize = EmbedBatchCap
	}
	return nil
}

// HasModelCredentials reports whether the model provider is usable.
func (c *Config) HasModelCredentials() bool {
	return c.GeminiAPIKey != ""
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
