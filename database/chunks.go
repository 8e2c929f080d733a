package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
	loadSql "github.com/aleuy/profilerag/sql"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	Upsert(ctx context.Context, entries []*model.IndexEntry) error
	Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]*model.RetrievalResult, error)
	Count(ctx context.Context) (int64, error)
	SelectChunk(ctx context.Context, hash string) (*model.IndexEntry, error)
	SelectChunksByDocument(ctx context.Context, documentID string) ([]*model.IndexEntry, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) (int, error)
}

// ChunksDBHandler is the PostgreSQL + pgvector implementation of the semantic
// index. The embedding dimension is pinned per collection at creation.
type ChunksDBHandler struct {
	db         *helper.Database
	collection string
	dim        int
}

// NewChunksDBHandler creates a new chunks database handler.
// It loads the chunk-related SQL functions, creates the table with the
// configured embedding dimension and verifies the collection identity.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, collection string, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:         db,
		collection: collection,
		dim:        embeddingDim,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.createTable(embeddingDim)
	if err != nil {
		return nil, err
	}

	err = chunksDbHandler.checkCollection()
	if err != nil {
		return nil, err
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// createTable creates the 'chunks' table with the configured vector dimension.
// If the table already exists, it does not create it again.
func (h *ChunksDBHandler) createTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		return helper.NewKindError(helper.KindIndexUnavailable, "initialize chunks table", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// checkCollection records the collection name and embedding dimension on first
// use and rejects an opening with a different name or dimension. Mixing
// embedding model versions without migration is disallowed.
func (h *ChunksDBHandler) checkCollection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collection_info (
			name TEXT PRIMARY KEY,
			embedding_dim INT NOT NULL
		);`)
	if err != nil {
		return helper.NewKindError(helper.KindIndexUnavailable, "create collection info", err)
	}

	var name string
	var dim int
	err = h.db.Instance.QueryRowContext(ctx, `SELECT name, embedding_dim FROM collection_info LIMIT 1;`).Scan(&name, &dim)
	if err != nil {
		_, err = h.db.Instance.ExecContext(ctx, `INSERT INTO collection_info (name, embedding_dim) VALUES ($1, $2);`, h.collection, h.dim)
		if err != nil {
			return helper.NewKindError(helper.KindIndexUnavailable, "record collection info", err)
		}
		return nil
	}

	if name != h.collection {
		return helper.NewKindError(helper.KindConfigMismatch, "check collection",
			fmt.Errorf("store holds collection %q, configured collection is %q", name, h.collection))
	}
	if dim != h.dim {
		return helper.NewKindError(helper.KindConfigMismatch, "check embedding dimension",
			fmt.Errorf("store holds %d-dimensional vectors, configured dimension is %d", dim, h.dim))
	}
	return nil
}

// Collection returns the collection name this handler was opened with.
func (h *ChunksDBHandler) Collection() string {
	return h.collection
}

// Dimension returns the pinned embedding dimension.
func (h *ChunksDBHandler) Dimension() int {
	return h.dim
}

// Upsert inserts or overwrites entries keyed by chunk hash. Last write wins
// per hash, which is safe because identity is content derived.
func (h *ChunksDBHandler) Upsert(ctx context.Context, entries []*model.IndexEntry) error {
	for _, entry := range entries {
		if len(entry.Vector) != h.dim {
			return helper.NewKindError(helper.KindConfigMismatch, "upsert chunk",
				fmt.Errorf("vector dimension %d does not match index dimension %d", len(entry.Vector), h.dim))
		}

		row := h.db.Instance.QueryRowContext(ctx,
			`SELECT * FROM upsert_chunk($1, $2, $3, $4, $5, $6, $7)`,
			entry.ChunkHash,
			entry.DocumentID,
			entry.Ordinal,
			entry.Text,
			entry.Category,
			pq.Array(entry.Vector),
			entry.Metadata,
		)

		var embedding pgvector.Vector
		err := row.Scan(
			&entry.ChunkHash,
			&entry.DocumentID,
			&entry.Ordinal,
			&entry.Text,
			&entry.Category,
			&embedding,
			&entry.Metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return helper.NewTransientError(helper.KindIndexUnavailable, "upsert chunk", err)
		}
	}

	return nil
}

// Query returns up to k nearest entries by cosine similarity, cut off below
// threshold zero (filtering by score is the retriever's policy, not the
// store's) and optionally restricted to categories.
func (h *ChunksDBHandler) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]*model.RetrievalResult, error) {
	var categories []string
	if filter != nil {
		categories = filter.Categories
	}

	rows, err := h.db.Instance.QueryContext(ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2, $3, $4)`,
		pq.Array(vector),
		k,
		-1.0,
		pq.Array(categories),
	)
	if err != nil {
		return nil, helper.NewTransientError(helper.KindIndexUnavailable, "query chunks", err)
	}
	defer rows.Close()

	var results []*model.RetrievalResult
	for rows.Next() {
		entry := &model.IndexEntry{}
		var similarity float64
		err := rows.Scan(
			&entry.ChunkHash,
			&entry.DocumentID,
			&entry.Ordinal,
			&entry.Text,
			&entry.Category,
			&entry.Metadata,
			&entry.CreatedAt,
			&similarity,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		results = append(results, &model.RetrievalResult{Entry: entry, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewTransientError(helper.KindIndexUnavailable, "query chunks", err)
	}

	return results, nil
}

// Count returns the number of index entries.
func (h *ChunksDBHandler) Count(ctx context.Context) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT count_chunks()`).Scan(&count)
	if err != nil {
		return 0, helper.NewTransientError(helper.KindIndexUnavailable, "count chunks", err)
	}
	return count, nil
}

// SelectChunk retrieves an entry by chunk hash.
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, hash string) (*model.IndexEntry, error) {
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_chunk($1)`, hash)

	entry := &model.IndexEntry{}
	var embedding pgvector.Vector
	err := row.Scan(
		&entry.ChunkHash,
		&entry.DocumentID,
		&entry.Ordinal,
		&entry.Text,
		&entry.Category,
		&embedding,
		&entry.Metadata,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	entry.Vector = embedding.Slice()

	return entry, nil
}

// SelectChunksByDocument retrieves all entries of one document in ordinal order.
func (h *ChunksDBHandler) SelectChunksByDocument(ctx context.Context, documentID string) ([]*model.IndexEntry, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_chunks_by_document($1)`, documentID)
	if err != nil {
		return nil, helper.NewTransientError(helper.KindIndexUnavailable, "select chunks by document", err)
	}
	defer rows.Close()

	var entries []*model.IndexEntry
	for rows.Next() {
		entry := &model.IndexEntry{}
		var embedding pgvector.Vector
		err := rows.Scan(
			&entry.ChunkHash,
			&entry.DocumentID,
			&entry.Ordinal,
			&entry.Text,
			&entry.Category,
			&embedding,
			&entry.Metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		entry.Vector = embedding.Slice()
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// DeleteChunksByDocument removes all entries of one document. This is the
// explicit maintenance operation for pruning chunks orphaned by a superseded
// document version; normal ingestion never calls it.
func (h *ChunksDBHandler) DeleteChunksByDocument(ctx context.Context, documentID string) (int, error) {
	var deleted int
	err := h.db.Instance.QueryRowContext(ctx, `SELECT delete_chunks_by_document($1)`, documentID).Scan(&deleted)
	if err != nil {
		return 0, helper.NewTransientError(helper.KindIndexUnavailable, "delete chunks by document", err)
	}
	return deleted, nil
}
