package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Chunk is a bounded text segment of a document, the unit of embedding and
// retrieval. Chunk identity is content derived, so re-ingesting an unchanged
// document produces identical hashes and idempotent upserts.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Hash       string    `json:"hash"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// NewChunkHash computes the identity hash(document id, ordinal, text).
func NewChunkHash(documentID string, ordinal int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", documentID, ordinal, text)))
	return hex.EncodeToString(sum[:])
}

// IndexEntry is the persisted (chunk id, vector, metadata) triple stored in
// the semantic index. Entries are upserted whole, never partially updated.
type IndexEntry struct {
	ChunkHash  string    `json:"chunk_hash"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Category   string    `json:"category"`
	Vector     []float32 `json:"vector"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}
