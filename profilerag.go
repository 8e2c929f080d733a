// Package profilerag answers natural language questions about one person's
// professional profile. It ingests a corpus of CVs, project writeups and
// repository snapshots into a semantic index and serves grounded answers
// through a retrieval augmented generation pipeline.
package profilerag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aleuy/profilerag/core/generation"
	"github.com/aleuy/profilerag/core/ingestion"
	"github.com/aleuy/profilerag/core/pipeline"
	"github.com/aleuy/profilerag/core/retrieval"
	"github.com/aleuy/profilerag/database"
	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
	loadSql "github.com/aleuy/profilerag/sql"
)

// ProfileRAG wires the ingestion and query pipelines over one shared index,
// embedder and configuration.
type ProfileRAG struct {
	Config    *model.Config
	DB        *helper.Database
	Index     database.Index
	Documents *database.DocumentsDBHandler
	Manifest  *database.Manifest

	embedder  *pipeline.BatchEmbedder
	local     *pipeline.LocalEmbedder
	engine    *retrieval.Engine
	assembler *retrieval.Assembler
	answers   *generation.AnswerGenerator
	ingestor  *ingestion.Ingestor
	log       *slog.Logger
}

// New builds all components from the configuration. Provider credentials are
// read from the environment variables the config names. Backend and provider
// selection happens here once; nothing downstream inspects types at runtime.
// A nil logger falls back to a pretty stdout handler at Info level.
func New(ctx context.Context, config *model.Config, logger *slog.Logger) (*ProfileRAG, error) {
	if config == nil {
		config = model.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		opts := helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{
				Level: slog.LevelInfo,
			},
		}
		logger = slog.New(helper.NewPrettyHandler(os.Stdout, opts))
	}

	rag := &ProfileRAG{Config: config, log: logger}

	switch config.IndexBackend {
	case model.IndexPostgres:
		dbConfig, err := helper.NewDatabaseConfiguration()
		if err != nil {
			return nil, err
		}
		db, err := helper.NewDatabase("profilerag", dbConfig, logger)
		if err != nil {
			return nil, err
		}
		if err := loadSql.Init(db.Instance); err != nil {
			return nil, helper.NewError("initialize database extensions", err)
		}
		documents, err := database.NewDocumentsDBHandler(db, false)
		if err != nil {
			return nil, helper.NewError("create documents handler", err)
		}
		chunks, err := database.NewChunksDBHandler(db, config.CollectionName, config.EmbeddingDim, false)
		if err != nil {
			return nil, helper.NewError("create chunks handler", err)
		}
		rag.DB = db
		rag.Documents = documents
		rag.Index = chunks
	case model.IndexQdrant:
		index, err := database.NewQdrantIndex(database.QdrantConfig{
			URL:        config.QdrantURL,
			APIKey:     os.Getenv(config.QdrantAPIKey),
			Collection: config.CollectionName,
			Dimension:  config.EmbeddingDim,
			Timeout:    config.IndexTimeout,
		})
		if err != nil {
			return nil, err
		}
		rag.Index = index
	case model.IndexMemory:
		rag.Index = database.NewMemoryIndex(config.CollectionName, config.EmbeddingDim)
	default:
		return nil, helper.NewKindError(helper.KindConfigMismatch, "create index",
			fmt.Errorf("unknown index backend %q", config.IndexBackend))
	}

	if err := config.CheckCollection(rag.Index.Collection()); err != nil {
		return nil, err
	}
	if rag.Index.Dimension() != config.EmbeddingDim {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "create index",
			fmt.Errorf("index dimension %d does not match configured embedding dimension %d", rag.Index.Dimension(), config.EmbeddingDim))
	}

	var provider pipeline.Embedder
	switch config.EmbeddingProvider {
	case model.EmbeddingGemini:
		embedder, err := pipeline.NewGeminiEmbedder(ctx, os.Getenv(config.EmbeddingAPIKey), config.EmbeddingModelID, config.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		provider = embedder
	case model.EmbeddingOpenAI:
		embedder, err := pipeline.NewOpenAIEmbedder(os.Getenv(config.EmbeddingAPIKey), "", config.EmbeddingModelID, config.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		provider = embedder
	case model.EmbeddingLocal:
		embedder, err := pipeline.NewLocalEmbedder(config.EmbeddingModelID, config.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		rag.local = embedder
		provider = embedder
	default:
		return nil, helper.NewKindError(helper.KindConfigMismatch, "create embedder",
			fmt.Errorf("unknown embedding provider %q", config.EmbeddingProvider))
	}
	rag.embedder = pipeline.NewBatchEmbedder(provider, pipeline.BatchEmbedderOptions{
		BatchSize:     config.EmbedBatchSize,
		RatePerSecond: config.EmbedRatePerSecond,
		Timeout:       config.EmbedTimeout,
		MaxRetries:    config.MaxRetries,
	})

	var generator generation.Generator
	switch config.GenerationProvider {
	case model.GenerationOpenAI:
		g, err := generation.NewOpenAIGenerator(os.Getenv(config.GenerationAPIKey), config.GenerationBaseURL, config.GenerationModelID)
		if err != nil {
			return nil, err
		}
		generator = g
	case model.GenerationAnthropic:
		g, err := generation.NewAnthropicGenerator(os.Getenv(config.GenerationAPIKey), config.GenerationModelID)
		if err != nil {
			return nil, err
		}
		generator = g
	default:
		return nil, helper.NewKindError(helper.KindConfigMismatch, "create generator",
			fmt.Errorf("unknown generation provider %q", config.GenerationProvider))
	}
	rag.answers = generation.NewAnswerGenerator(generator, int(config.MaxRetries), logger)

	rag.engine = retrieval.NewEngine(rag.Index, config.RetrievalK, config.RetrievalMinScore)
	rag.assembler = retrieval.NewAssembler(config.ContextTokenBudget)

	if config.ManifestPath != "" {
		manifest, err := database.OpenManifest(config.ManifestPath)
		if err != nil {
			return nil, err
		}
		rag.Manifest = manifest
	}

	chunker, err := pipeline.NewChunker(config.ChunkMaxTokens, config.ChunkOverlapTokens)
	if err != nil {
		return nil, err
	}
	var documents ingestion.DocumentStore
	if rag.Documents != nil {
		documents = rag.Documents
	}
	var manifest ingestion.ChangeManifest
	if rag.Manifest != nil {
		manifest = rag.Manifest
	}
	rag.ingestor = ingestion.NewIngestor(pipeline.NewLoader(logger), chunker, rag.embedder, rag.Index, documents, manifest, config.IngestWorkers, logger)

	return rag, nil
}

// Ingest walks the corpus tree below root and indexes every supported
// document. Per-document failures are collected in the report, unchanged
// documents are skipped.
func (r *ProfileRAG) Ingest(ctx context.Context, root string) (*ingestion.Report, error) {
	return r.ingestor.IngestTree(ctx, root)
}

// Ask answers a question grounded in the indexed profile. The query path
// fails closed: provider and index outages degrade to a fallback answer
// carrying the failure kind instead of an error.
func (r *ProfileRAG) Ask(ctx context.Context, question string) (*model.Answer, error) {
	return r.ask(ctx, question, nil)
}

// AskCategory answers a question using only chunks from the given corpus
// categories, e.g. "CV" or "projects".
func (r *ProfileRAG) AskCategory(ctx context.Context, question string, categories ...string) (*model.Answer, error) {
	return r.ask(ctx, question, &database.Filter{Categories: categories})
}

func (r *ProfileRAG) ask(ctx context.Context, question string, filter *database.Filter) (*model.Answer, error) {
	if strings.TrimSpace(question) == "" {
		err := helper.NewKindError(helper.KindConfigMismatch, "ask", fmt.Errorf("question must not be empty"))
		return r.degrade(err, "validate question"), nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return r.degrade(err, "embed question"), nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.Config.IndexTimeout)
	defer cancel()
	results, err := r.engine.Retrieve(queryCtx, vectors[0], filter)
	if err != nil {
		if helper.IsKind(err, helper.KindNoRelevantContext) {
			return &model.Answer{
				Text:           "I don't have information about that in the profile.",
				FallbackReason: helper.KindNoRelevantContext,
			}, nil
		}
		return r.degrade(err, "retrieve context"), nil
	}

	assembled := r.assembler.Assemble(results)

	generateCtx, cancel := context.WithTimeout(ctx, r.Config.GenerateTimeout)
	defer cancel()
	answer := r.answers.Answer(generateCtx, question, assembled.Text, assembled.Sources)
	return answer, nil
}

// degrade maps an internal failure onto the fallback answer surface.
func (r *ProfileRAG) degrade(err error, op string) *model.Answer {
	kind := helper.KindOf(err)
	if kind == "" {
		kind = helper.KindGenerationService
	}
	r.log.Warn("Query degraded to fallback answer", slog.String("op", op), slog.String("kind", string(kind)), slog.String("error", err.Error()))
	return &model.Answer{
		Text:           "I can't answer that right now, please try again shortly.",
		FallbackReason: kind,
	}
}

// Ready reports whether the index is reachable and holds at least one chunk.
func (r *ProfileRAG) Ready(ctx context.Context) error {
	count, err := r.Index.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return helper.NewKindError(helper.KindNoRelevantContext, "ready", fmt.Errorf("collection %q is empty, run ingestion first", r.Index.Collection()))
	}
	return nil
}

// chunkPruner is implemented by index backends that support per-document
// deletion.
type chunkPruner interface {
	DeleteChunksByDocument(ctx context.Context, documentID string) (int, error)
}

// PruneDocument removes one document's chunks, its metadata row and its
// manifest entry. Ingestion never deletes; this is the explicit maintenance
// path for documents removed from the corpus. Returns the number of chunks
// removed, or -1 when the backend does not report it.
func (r *ProfileRAG) PruneDocument(ctx context.Context, documentID string) (int, error) {
	pruner, ok := r.Index.(chunkPruner)
	if !ok {
		return 0, helper.NewError("prune document", fmt.Errorf("index backend %T does not support pruning", r.Index))
	}

	deleted, err := pruner.DeleteChunksByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if r.Documents != nil {
		if err := r.Documents.DeleteDocument(ctx, documentID); err != nil {
			return deleted, err
		}
	}
	if r.Manifest != nil {
		if err := r.Manifest.Forget(ctx, documentID); err != nil {
			return deleted, err
		}
	}

	r.log.Info("pruned document", slog.String("document_id", documentID), slog.Int("chunks", deleted))
	return deleted, nil
}

// Close releases the database connection, the manifest and any local model
// session.
func (r *ProfileRAG) Close() error {
	var firstErr error
	if r.Manifest != nil {
		if err := r.Manifest.Close(); err != nil {
			firstErr = err
		}
	}
	if r.local != nil {
		if err := r.local.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.DB != nil && r.DB.Instance != nil {
		if err := r.DB.Instance.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
