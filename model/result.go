package model

import "github.com/aleuy/profilerag/helper"

// RetrievalResult is a candidate chunk with its cosine similarity score,
// computed per query and ordered by descending score.
type RetrievalResult struct {
	Entry *IndexEntry `json:"entry"`
	Score float64     `json:"score"`
}

// SourceRef identifies a chunk used as grounding for an answer.
type SourceRef struct {
	DocumentID   string `json:"document_id"`
	ChunkOrdinal int    `json:"chunk_ordinal"`
}

// Answer is the generated text together with the ordered grounding sources.
// When the pipeline degrades to the fallback answer, Sources is empty and
// FallbackReason carries the error kind for the caller's observability.
type Answer struct {
	Text           string      `json:"text"`
	Sources        []SourceRef `json:"sources"`
	FallbackReason helper.Kind `json:"fallback_reason,omitempty"`
}

// Grounded reports whether the answer is backed by retrieved context.
func (a *Answer) Grounded() bool {
	return a.FallbackReason == ""
}
