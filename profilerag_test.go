package profilerag

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleuy/profilerag/core/generation"
	"github.com/aleuy/profilerag/core/ingestion"
	"github.com/aleuy/profilerag/core/pipeline"
	"github.com/aleuy/profilerag/core/retrieval"
	"github.com/aleuy/profilerag/database"
	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// keywordEmbedder derives vectors from keyword occurrences so retrieval
// behaves predictably without a real embedding service.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vectors[i] = []float32{
			float32(strings.Count(lower, "engineer")),
			float32(strings.Count(lower, "bees")),
			0.1,
		}
	}
	return vectors, nil
}

func (keywordEmbedder) Dimension() int { return 3 }

func (keywordEmbedder) ModelID() string { return "keyword-embedding" }

type stubGenerator struct {
	reply string
	fail  bool
}

func (s *stubGenerator) Generate(ctx context.Context, system string, prompt string) (string, error) {
	if s.fail {
		return "", helper.NewKindError(helper.KindGenerationService, "Generate", fmt.Errorf("401 unauthorized"))
	}
	if s.reply != "" {
		return s.reply, nil
	}
	return "Echo: " + prompt, nil
}

func (s *stubGenerator) ModelID() string { return "stub-model" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRAG assembles a pipeline over an in-memory index with deterministic
// embedding and generation fakes.
func newTestRAG(t *testing.T, generator generation.Generator) *ProfileRAG {
	t.Helper()

	config := model.DefaultConfig()
	config.IndexBackend = model.IndexMemory
	config.EmbeddingDim = 3
	config.ChunkMaxTokens = 30
	config.ChunkOverlapTokens = 5
	config.ManifestPath = ""
	require.NoError(t, config.Validate(), "Expected the test configuration to validate")

	logger := testLogger()
	index := database.NewMemoryIndex(config.CollectionName, config.EmbeddingDim)
	embedder := pipeline.NewBatchEmbedder(keywordEmbedder{}, pipeline.BatchEmbedderOptions{})
	chunker, err := pipeline.NewChunker(config.ChunkMaxTokens, config.ChunkOverlapTokens)
	require.NoError(t, err, "Expected NewChunker to not return an error")

	return &ProfileRAG{
		Config:    config,
		Index:     index,
		embedder:  embedder,
		engine:    retrieval.NewEngine(index, config.RetrievalK, config.RetrievalMinScore),
		assembler: retrieval.NewAssembler(config.ContextTokenBudget),
		answers:   generation.NewAnswerGenerator(generator, 1, logger),
		ingestor:  ingestion.NewIngestor(pipeline.NewLoader(logger), chunker, embedder, index, nil, nil, 2, logger),
		log:       logger,
	}
}

func writeTestCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"CV/resume.txt":     "Worked five years as a backend engineer. Led the engineer guild at work.",
		"hobbies/bees.txt":  "Keeps bees at home. The bees live in two hives behind the house.",
		"projects/proto.md": "# Prototype\n\nA weekend prototype built by one engineer.",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "Expected corpus directory to be created")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "Expected corpus file to be written")
	}
	return root
}

func TestIngestThenAsk(t *testing.T) {
	rag := newTestRAG(t, &stubGenerator{})
	root := writeTestCorpus(t)
	ctx := context.Background()

	report, err := rag.Ingest(ctx, root)
	require.NoError(t, err, "Expected Ingest to not return an error")
	assert.Equal(t, 3, report.Processed, "Expected every corpus document to be processed")
	assert.Zero(t, report.Failed, "Expected no failures")

	require.NoError(t, rag.Ready(ctx), "Expected the index to be ready after ingestion")

	t.Run("Answer is grounded in the matching document", func(t *testing.T) {
		answer, err := rag.Ask(ctx, "What experience does this engineer have?")
		require.NoError(t, err, "Expected Ask to not return an error")
		assert.True(t, answer.Grounded(), "Expected a grounded answer")
		assert.Contains(t, answer.Text, "backend engineer", "Expected the answer to draw on the CV content")
		assert.NotContains(t, answer.Text, "bees", "Expected unrelated content to stay out of the context")
		assert.NotEmpty(t, answer.Sources, "Expected source references on a grounded answer")
	})

	t.Run("Category filter restricts the grounding", func(t *testing.T) {
		answer, err := rag.AskCategory(ctx, "Anything about the engineer hobby with bees?", "hobbies")
		require.NoError(t, err, "Expected AskCategory to not return an error")
		assert.True(t, answer.Grounded(), "Expected a grounded answer")
		assert.Contains(t, answer.Text, "hives", "Expected only the hobby content in the context")
		assert.NotContains(t, answer.Text, "backend", "Expected the CV content to be filtered out")
	})

	t.Run("Off-topic question yields the no-context answer", func(t *testing.T) {
		answer, err := rag.Ask(ctx, "What is the capital of France?")
		require.NoError(t, err, "Expected Ask to not return an error")
		assert.False(t, answer.Grounded(), "Expected a degraded answer")
		assert.Equal(t, helper.KindNoRelevantContext, answer.FallbackReason, "Expected the no relevant context kind")
		assert.Empty(t, answer.Sources, "Expected no sources")
	})

	t.Run("Empty question degrades instead of erroring", func(t *testing.T) {
		answer, err := rag.Ask(ctx, "   ")
		require.NoError(t, err, "Expected Ask to not return an error for an empty question")
		assert.False(t, answer.Grounded(), "Expected a degraded answer")
		assert.Equal(t, helper.KindConfigMismatch, answer.FallbackReason, "Expected the validation kind in the side channel")
		assert.Empty(t, answer.Sources, "Expected no sources")
	})
}

func TestAskDegradesOnGenerationFailure(t *testing.T) {
	rag := newTestRAG(t, &stubGenerator{fail: true})
	root := writeTestCorpus(t)
	ctx := context.Background()

	_, err := rag.Ingest(ctx, root)
	require.NoError(t, err, "Expected Ingest to not return an error")

	answer, err := rag.Ask(ctx, "What experience does this engineer have?")
	require.NoError(t, err, "Expected a provider outage to not surface as an error")
	assert.False(t, answer.Grounded(), "Expected a degraded answer")
	assert.Equal(t, helper.KindGenerationService, answer.FallbackReason, "Expected the generation service kind")
	assert.Empty(t, answer.Sources, "Expected no sources on the fallback answer")
	assert.Contains(t, answer.Text, "engineer", "Expected the fallback to quote retrieved context")
}

func TestReadyOnEmptyIndex(t *testing.T) {
	rag := newTestRAG(t, &stubGenerator{})
	err := rag.Ready(context.Background())
	require.Error(t, err, "Expected Ready to fail on an empty index")
	assert.True(t, helper.IsKind(err, helper.KindNoRelevantContext), "Expected the empty index to read as missing context")
}

func TestPruneDocument(t *testing.T) {
	rag := newTestRAG(t, &stubGenerator{})
	root := writeTestCorpus(t)
	ctx := context.Background()

	report, err := rag.Ingest(ctx, root)
	require.NoError(t, err, "Expected Ingest to not return an error")
	require.Equal(t, 3, report.Processed, "Expected every corpus document to be processed")

	before, err := rag.Index.Count(ctx)
	require.NoError(t, err, "Expected Count to not return an error")

	docID := model.NewDocumentID("hobbies", "hobbies/bees.txt")
	deleted, err := rag.PruneDocument(ctx, docID)
	require.NoError(t, err, "Expected PruneDocument to not return an error")
	assert.Positive(t, deleted, "Expected at least one chunk to be removed")

	after, err := rag.Index.Count(ctx)
	require.NoError(t, err, "Expected Count to not return an error")
	assert.Equal(t, before-int64(deleted), after, "Expected the index to shrink by the pruned chunks")

	t.Run("Pruned content no longer answers", func(t *testing.T) {
		answer, err := rag.Ask(ctx, "Tell me about the bees and their hives")
		require.NoError(t, err, "Expected Ask to not return an error")
		assert.NotContains(t, answer.Text, "hives", "Expected pruned content to be unavailable")
	})
}

func TestNew(t *testing.T) {
	t.Run("Full construction with the memory backend", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "test-key")
		t.Setenv("GROQ_API_KEY", "test-key")

		config := model.DefaultConfig()
		config.IndexBackend = model.IndexMemory
		config.EmbeddingProvider = model.EmbeddingOpenAI
		config.EmbeddingModelID = "text-embedding-3-small"
		config.EmbeddingDim = 1536
		config.EmbeddingAPIKey = "OPENAI_API_KEY"
		config.ManifestPath = filepath.Join(t.TempDir(), "manifest.db")

		rag, err := New(context.Background(), config, nil)
		require.NoError(t, err, "Expected New to not return an error")
		require.NotNil(t, rag, "Expected New to return a non-nil instance")
		assert.NotNil(t, rag.Manifest, "Expected the manifest to be opened")
		assert.Equal(t, config.CollectionName, rag.Index.Collection(), "Expected the index to carry the collection name")
		assert.NoError(t, rag.Close(), "Expected Close to not return an error")
	})

	t.Run("An injected logger is used instead of the default", func(t *testing.T) {
		t.Setenv("GROQ_API_KEY", "test-key")

		config := model.DefaultConfig()
		config.IndexBackend = model.IndexMemory
		config.EmbeddingProvider = model.EmbeddingOpenAI
		config.EmbeddingModelID = "text-embedding-3-small"
		config.EmbeddingDim = 1536
		config.EmbeddingAPIKey = "GROQ_API_KEY"
		config.ManifestPath = ""

		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		rag, err := New(context.Background(), config, logger)
		require.NoError(t, err, "Expected New to not return an error")
		assert.Same(t, logger, rag.log, "Expected the injected logger to be wired through")
		assert.NoError(t, rag.Close(), "Expected Close to not return an error")
	})

	t.Run("Invalid configuration is rejected", func(t *testing.T) {
		config := model.DefaultConfig()
		config.CollectionName = ""
		_, err := New(context.Background(), config, nil)
		require.Error(t, err, "Expected New to fail on an invalid configuration")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})

	t.Run("Unknown index backend is rejected", func(t *testing.T) {
		config := model.DefaultConfig()
		config.IndexBackend = "redis"
		_, err := New(context.Background(), config, nil)
		require.Error(t, err, "Expected New to fail on an unknown backend")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})

	t.Run("Unknown embedding provider is rejected", func(t *testing.T) {
		config := model.DefaultConfig()
		config.IndexBackend = model.IndexMemory
		config.EmbeddingProvider = "word2vec"
		_, err := New(context.Background(), config, nil)
		require.Error(t, err, "Expected New to fail on an unknown embedding provider")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})
}
