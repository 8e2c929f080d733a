package database

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// MemoryIndex is an in-process semantic index used by tests and small
// deployments that do not want an external store. It is safe for concurrent
// use and gives read-your-writes by construction.
type MemoryIndex struct {
	mu         sync.RWMutex
	entries    map[string]*model.IndexEntry
	collection string
	dim        int
}

// NewMemoryIndex creates an empty in-memory index for the given collection
// and embedding dimension.
func NewMemoryIndex(collection string, dim int) *MemoryIndex {
	return &MemoryIndex{
		entries:    make(map[string]*model.IndexEntry),
		collection: collection,
		dim:        dim,
	}
}

// Collection returns the collection name.
func (m *MemoryIndex) Collection() string {
	return m.collection
}

// Dimension returns the pinned embedding dimension.
func (m *MemoryIndex) Dimension() int {
	return m.dim
}

// Upsert stores entries keyed by chunk hash, overwriting prior versions.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []*model.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		if len(entry.Vector) != m.dim {
			return helper.NewKindError(helper.KindConfigMismatch, "upsert chunk",
				fmt.Errorf("vector dimension %d does not match index dimension %d", len(entry.Vector), m.dim))
		}
		stored := *entry
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now()
		}
		m.entries[entry.ChunkHash] = &stored
	}
	return nil
}

// Query returns up to k entries by descending cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]*model.RetrievalResult, error) {
	if len(vector) != m.dim {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "query chunks",
			fmt.Errorf("query vector dimension %d does not match index dimension %d", len(vector), m.dim))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*model.RetrievalResult
	for _, entry := range m.entries {
		if filter != nil && len(filter.Categories) > 0 && !containsString(filter.Categories, entry.Category) {
			continue
		}
		results = append(results, &model.RetrievalResult{
			Entry: entry,
			Score: cosineSimilarity(vector, entry.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ChunkHash < results[j].Entry.ChunkHash
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored entries.
func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

// DeleteChunksByDocument removes all entries of one document, returning the number
// removed. Maintenance operation, not part of ingestion.
func (m *MemoryIndex) DeleteChunksByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for hash, entry := range m.entries {
		if entry.DocumentID == documentID {
			delete(m.entries, hash)
			deleted++
		}
	}
	return deleted, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// cosineSimilarity calculates the cosine similarity between two embedding vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
