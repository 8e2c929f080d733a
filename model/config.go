package model

import (
	"fmt"
	"os"
	"time"

	"github.com/aleuy/profilerag/helper"
	"gopkg.in/yaml.v3"
)

// Provider and backend selectors recognized by the configuration surface.
const (
	IndexPostgres = "postgres"
	IndexQdrant   = "qdrant"
	IndexMemory   = "memory"

	EmbeddingGemini = "gemini"
	EmbeddingOpenAI = "openai"
	EmbeddingLocal  = "local"

	GenerationOpenAI    = "openai"
	GenerationAnthropic = "anthropic"
)

// Config is the explicit configuration object constructed once by the caller
// and passed by reference into the orchestrators. There is no process wide
// mutable state behind it; credentials come from the environment variables
// named here.
type Config struct {
	// CollectionName keys the persisted index collection. Ingestion and query
	// must agree on it; a mismatch is a configuration error.
	CollectionName string `yaml:"collection_name"`

	IndexBackend string `yaml:"index_backend"`
	QdrantURL    string `yaml:"qdrant_url,omitempty"`
	QdrantAPIKey string `yaml:"qdrant_api_key_env,omitempty"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModelID  string `yaml:"embedding_model_id"`
	EmbeddingDim      int    `yaml:"embedding_dim"`
	EmbeddingAPIKey   string `yaml:"embedding_api_key_env"`

	ChunkMaxTokens     int `yaml:"chunk_max_tokens"`
	ChunkOverlapTokens int `yaml:"chunk_overlap_tokens"`

	// RetrievalK and RetrievalMinScore are deployment level settings, not per
	// request parameters.
	RetrievalK        int     `yaml:"retrieval_k"`
	RetrievalMinScore float64 `yaml:"retrieval_min_score"`

	ContextTokenBudget int `yaml:"context_token_budget"`

	GenerationProvider string `yaml:"generation_provider"`
	GenerationModelID  string `yaml:"generation_model_id"`
	GenerationAPIKey   string `yaml:"generation_api_key_env"`
	GenerationBaseURL  string `yaml:"generation_base_url,omitempty"`

	IngestWorkers  int    `yaml:"ingest_workers"`
	ManifestPath   string `yaml:"manifest_path"`
	EmbedBatchSize int    `yaml:"embed_batch_size"`

	// EmbedRatePerSecond throttles embedding provider calls; zero disables
	// the limiter.
	EmbedRatePerSecond float64 `yaml:"embed_rate_per_second"`
	MaxRetries         uint64  `yaml:"max_retries"`

	EmbedTimeout    time.Duration `yaml:"embed_timeout"`
	IndexTimeout    time.Duration `yaml:"index_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

// DefaultConfig returns the deployment defaults. Chunk sizes mirror a
// 1000 character window with 200 character overlap, k=5 matches the
// retriever default of the production deployment.
func DefaultConfig() *Config {
	return &Config{
		CollectionName:     "profile",
		IndexBackend:       IndexPostgres,
		EmbeddingProvider:  EmbeddingGemini,
		EmbeddingModelID:   "text-embedding-004",
		EmbeddingDim:       768,
		EmbeddingAPIKey:    "GOOGLE_API_KEY",
		ChunkMaxTokens:     250,
		ChunkOverlapTokens: 50,
		RetrievalK:         5,
		RetrievalMinScore:  0.35,
		ContextTokenBudget: 3000,
		GenerationProvider: GenerationOpenAI,
		GenerationModelID:  "openai/gpt-oss-120b",
		GenerationAPIKey:   "GROQ_API_KEY",
		GenerationBaseURL:  "https://api.groq.com/openai/v1",
		IngestWorkers:      4,
		ManifestPath:       "manifest.db",
		EmbedBatchSize:     32,
		EmbedRatePerSecond: 0,
		MaxRetries:         4,
		EmbedTimeout:       30 * time.Second,
		IndexTimeout:       10 * time.Second,
		GenerateTimeout:    45 * time.Second,
	}
}

// LoadConfig reads a YAML config file and fills unset fields with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, helper.NewError("read config", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "parse config", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for internal consistency. All violations
// surface as ConfigMismatch so callers can distinguish deployment errors from
// runtime failures.
func (c *Config) Validate() error {
	if c.CollectionName == "" {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("collection_name must not be empty"))
	}
	if c.ChunkMaxTokens <= 0 {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("chunk_max_tokens must be positive, got %d", c.ChunkMaxTokens))
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("chunk_overlap_tokens must be in [0, chunk_max_tokens), got %d", c.ChunkOverlapTokens))
	}
	if c.RetrievalK <= 0 {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("retrieval_k must be positive, got %d", c.RetrievalK))
	}
	if c.RetrievalMinScore < -1 || c.RetrievalMinScore > 1 {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("retrieval_min_score must be in [-1, 1], got %f", c.RetrievalMinScore))
	}
	if c.ContextTokenBudget <= 0 {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("context_token_budget must be positive, got %d", c.ContextTokenBudget))
	}
	if c.EmbeddingDim <= 0 {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim))
	}
	if c.IngestWorkers <= 0 {
		c.IngestWorkers = 1
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	if c.IndexBackend == IndexQdrant && c.QdrantURL == "" {
		return helper.NewKindError(helper.KindConfigMismatch, "validate config", fmt.Errorf("qdrant_url must be set for the qdrant backend"))
	}
	return nil
}

// CheckCollection verifies that the configured collection name matches the
// collection an index was opened with.
func (c *Config) CheckCollection(indexCollection string) error {
	if c.CollectionName != indexCollection {
		return helper.NewKindError(helper.KindConfigMismatch, "check collection",
			fmt.Errorf("configured collection %q does not match index collection %q", c.CollectionName, indexCollection))
	}
	return nil
}
