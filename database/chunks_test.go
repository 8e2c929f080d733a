package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

const (
	testCollection = "profile"
	testDim        = 3
)

func pgEntry(docID string, ordinal int, category, text string, vector []float32) *model.IndexEntry {
	return &model.IndexEntry{
		ChunkHash:  model.NewChunkHash(docID, ordinal, text),
		DocumentID: docID,
		Ordinal:    ordinal,
		Text:       text,
		Category:   category,
		Vector:     vector,
		Metadata:   model.Metadata{"source": docID + ".txt"},
	}
}

func TestChunksNewChunksDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewChunksDBHandler", func(t *testing.T) {
		chunksDbHandler, err := NewChunksDBHandler(database, testCollection, testDim, true)
		assert.NoError(t, err, "Expected NewChunksDBHandler to not return an error")
		require.NotNil(t, chunksDbHandler, "Expected NewChunksDBHandler to return a non-nil instance")
		assert.Equal(t, testCollection, chunksDbHandler.Collection(), "Expected the handler to carry the collection name")
		assert.Equal(t, testDim, chunksDbHandler.Dimension(), "Expected the handler to carry the embedding dimension")
	})

	t.Run("Invalid call NewChunksDBHandler with nil database", func(t *testing.T) {
		_, err := NewChunksDBHandler(nil, testCollection, testDim, false)
		assert.Error(t, err, "Expected error when creating ChunksDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})

	t.Run("Invalid call NewChunksDBHandler with non-positive dimension", func(t *testing.T) {
		_, err := NewChunksDBHandler(database, testCollection, 0, false)
		assert.Error(t, err, "Expected error for a non-positive embedding dimension")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})

	t.Run("Collection name mismatch is rejected", func(t *testing.T) {
		_, err := NewChunksDBHandler(database, "another_collection", testDim, false)
		assert.Error(t, err, "Expected error when opening a store holding a different collection")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})

	t.Run("Embedding dimension mismatch is rejected", func(t *testing.T) {
		_, err := NewChunksDBHandler(database, testCollection, testDim+1, false)
		assert.Error(t, err, "Expected error when opening a store pinned to a different dimension")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})
}

func TestChunksUpsert(t *testing.T) {
	database := initDB(t)

	chunksDbHandler, err := NewChunksDBHandler(database, testCollection, testDim, true)
	require.NoError(t, err, "Expected NewChunksDBHandler to not return an error")

	ctx := context.Background()

	t.Run("Upsert inserts new chunks", func(t *testing.T) {
		entry := pgEntry("upsert_doc", 0, "CV", "led the platform team", []float32{1, 0, 0})
		err := chunksDbHandler.Upsert(ctx, []*model.IndexEntry{entry})
		assert.NoError(t, err, "Expected Upsert to not return an error")
		assert.WithinDuration(t, time.Now(), entry.CreatedAt, 5*time.Second, "Expected CreatedAt to be set by the database")
	})

	t.Run("Upsert is idempotent per chunk hash", func(t *testing.T) {
		entry := pgEntry("upsert_doc", 1, "CV", "built ingestion pipelines", []float32{0, 1, 0})
		require.NoError(t, chunksDbHandler.Upsert(ctx, []*model.IndexEntry{entry}), "Expected first Upsert to not return an error")
		require.NoError(t, chunksDbHandler.Upsert(ctx, []*model.IndexEntry{entry}), "Expected repeated Upsert to not return an error")

		entries, err := chunksDbHandler.SelectChunksByDocument(ctx, "upsert_doc")
		require.NoError(t, err, "Expected SelectChunksByDocument to not return an error")
		assert.Len(t, entries, 2, "Expected re-upserting the same chunk to not duplicate it")
	})

	t.Run("Upsert rejects mismatched vector dimensions", func(t *testing.T) {
		entry := pgEntry("upsert_doc", 2, "CV", "bad vector", []float32{1, 0})
		err := chunksDbHandler.Upsert(ctx, []*model.IndexEntry{entry})
		assert.Error(t, err, "Expected Upsert to fail on a dimension mismatch")
		assert.True(t, helper.IsKind(err, helper.KindConfigMismatch), "Expected a config mismatch kind")
	})

	t.Run("SelectChunk returns the stored entry", func(t *testing.T) {
		entry := pgEntry("select_doc", 0, "projects", "shipped a side project", []float32{0, 0, 1})
		require.NoError(t, chunksDbHandler.Upsert(ctx, []*model.IndexEntry{entry}), "Expected Upsert to not return an error")

		stored, err := chunksDbHandler.SelectChunk(ctx, entry.ChunkHash)
		require.NoError(t, err, "Expected SelectChunk to not return an error")
		assert.Equal(t, entry.Text, stored.Text, "Expected the stored content back")
		assert.Equal(t, entry.Category, stored.Category, "Expected the stored category back")
		assert.Equal(t, entry.Vector, stored.Vector, "Expected the stored vector back")
		assert.Equal(t, "select_doc.txt", stored.Metadata["source"], "Expected the stored metadata back")
	})
}

func TestChunksQuery(t *testing.T) {
	database := initDB(t)

	chunksDbHandler, err := NewChunksDBHandler(database, testCollection, testDim, true)
	require.NoError(t, err, "Expected NewChunksDBHandler to not return an error")

	ctx := context.Background()
	require.NoError(t, chunksDbHandler.Upsert(ctx, []*model.IndexEntry{
		pgEntry("query_doc1", 0, "CV", "backend engineer for five years", []float32{1, 0, 0}),
		pgEntry("query_doc1", 1, "CV", "maintains data pipelines", []float32{0.9, 0.1, 0}),
		pgEntry("query_doc2", 0, "projects", "weekend beekeeping project", []float32{0, 0, 1}),
	}), "Expected Upsert to not return an error")

	t.Run("Nearest chunks come back ordered by similarity", func(t *testing.T) {
		results, err := chunksDbHandler.Query(ctx, []float32{1, 0, 0}, 10, nil)
		require.NoError(t, err, "Expected Query to not return an error")
		require.NotEmpty(t, results, "Expected at least one result")
		assert.Equal(t, "query_doc1", results[0].Entry.DocumentID, "Expected the closest chunk first")
		assert.InDelta(t, 1.0, results[0].Score, 1e-6, "Expected the identical vector to score one")
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "Expected non-increasing scores")
		}
	})

	t.Run("k bounds the result count", func(t *testing.T) {
		results, err := chunksDbHandler.Query(ctx, []float32{1, 0, 0}, 1, nil)
		require.NoError(t, err, "Expected Query to not return an error")
		assert.Len(t, results, 1, "Expected at most k results")
	})

	t.Run("Category filter restricts results", func(t *testing.T) {
		results, err := chunksDbHandler.Query(ctx, []float32{1, 0, 0}, 10, &Filter{Categories: []string{"projects"}})
		require.NoError(t, err, "Expected Query to not return an error")
		for _, result := range results {
			assert.Equal(t, "projects", result.Entry.Category, "Expected only the filtered category")
		}
	})

	t.Run("Count reflects stored chunks", func(t *testing.T) {
		count, err := chunksDbHandler.Count(ctx)
		require.NoError(t, err, "Expected Count to not return an error")
		assert.GreaterOrEqual(t, count, int64(3), "Expected at least the seeded chunks")
	})
}

func TestChunksDeleteByDocument(t *testing.T) {
	database := initDB(t)

	chunksDbHandler, err := NewChunksDBHandler(database, testCollection, testDim, true)
	require.NoError(t, err, "Expected NewChunksDBHandler to not return an error")

	ctx := context.Background()
	require.NoError(t, chunksDbHandler.Upsert(ctx, []*model.IndexEntry{
		pgEntry("delete_doc", 0, "CV", "stale first chunk", []float32{1, 0, 0}),
		pgEntry("delete_doc", 1, "CV", "stale second chunk", []float32{0, 1, 0}),
	}), "Expected Upsert to not return an error")

	deleted, err := chunksDbHandler.DeleteChunksByDocument(ctx, "delete_doc")
	require.NoError(t, err, "Expected DeleteChunksByDocument to not return an error")
	assert.Equal(t, 2, deleted, "Expected both chunks of the document to be deleted")

	entries, err := chunksDbHandler.SelectChunksByDocument(ctx, "delete_doc")
	require.NoError(t, err, "Expected SelectChunksByDocument to not return an error")
	assert.Empty(t, entries, "Expected no chunks to remain for the document")
}
