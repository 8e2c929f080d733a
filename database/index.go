package database

import (
	"context"

	"github.com/aleuy/profilerag/model"
)

// Filter restricts an index query to entries matching the given metadata.
type Filter struct {
	Categories []string
}

// Index is the semantic index: the sole store of IndexEntries. Upserts are
// idempotent by chunk hash, queries return up to k nearest entries by cosine
// similarity ordered by descending score. Implementations must support
// concurrent readers and writers; a write is visible to subsequent queries
// from the same process.
type Index interface {
	Upsert(ctx context.Context, entries []*model.IndexEntry) error
	Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]*model.RetrievalResult, error)
	Count(ctx context.Context) (int64, error)
	Collection() string
	Dimension() int
}
