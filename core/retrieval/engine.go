package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleuy/profilerag/database"
	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// ErrNoRelevantContext signals that no candidate survived threshold and
// deduplication filtering. Callers must treat it as an explicit outcome, not
// as an empty success.
var ErrNoRelevantContext = helper.NewKindError(helper.KindNoRelevantContext, "retrieve", fmt.Errorf("no chunk scored above the similarity threshold"))

// Engine turns a query vector into a ranked, deduplicated, threshold filtered
// candidate set backed by the semantic index.
type Engine struct {
	index    database.Index
	topK     int
	minScore float64
}

// NewEngine creates a retrieval engine with deployment level top-k and
// minimum score settings.
func NewEngine(index database.Index, topK int, minScore float64) *Engine {
	return &Engine{
		index:    index,
		topK:     topK,
		minScore: minScore,
	}
}

// Retrieve queries the index for the top-k nearest chunks and applies the
// noise threshold and the near-duplicate collapse. Results keep the index
// order, so scores are non-increasing by rank. Returns ErrNoRelevantContext
// when nothing survives.
func (e *Engine) Retrieve(ctx context.Context, embedding []float32, filter *database.Filter) ([]*model.RetrievalResult, error) {
	candidates, err := e.index.Query(ctx, embedding, e.topK, filter)
	if err != nil {
		return nil, err
	}

	var results []*model.RetrievalResult
	for _, candidate := range candidates {
		if candidate.Score < e.minScore {
			continue
		}
		if isNearDuplicate(results, candidate) {
			continue
		}
		results = append(results, candidate)
	}

	if len(results) == 0 {
		return nil, ErrNoRelevantContext
	}
	return results, nil
}

// isNearDuplicate reports whether a candidate repeats an already kept chunk
// of the same document. Overlapping chunk windows share most of their words,
// so token set overlap above 0.8 counts as the same cluster.
func isNearDuplicate(kept []*model.RetrievalResult, candidate *model.RetrievalResult) bool {
	for _, result := range kept {
		if result.Entry.DocumentID != candidate.Entry.DocumentID {
			continue
		}
		if tokenJaccard(result.Entry.Text, candidate.Entry.Text) > 0.8 {
			return true
		}
	}
	return false
}

// tokenJaccard computes the Jaccard similarity of the lowercased token sets.
func tokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		set[token] = true
	}
	return set
}
